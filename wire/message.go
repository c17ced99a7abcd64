package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// OP_MSG flag bits.
const (
	flagChecksumPresent uint32 = 1 << 0
	flagMoreToCome      uint32 = 1 << 1
	flagExhaustAllowed  uint32 = 1 << 16
)

// Section kinds within an OP_MSG body.
const (
	sectionKindBody            byte = 0
	sectionKindDocumentSequence byte = 1
)

// Message is a decoded OP_MSG or legacy OP_QUERY reply.
type Message struct {
	Body        bson.Raw
	Sequences   map[string][]bson.Raw
	MoreToCome  bool
}

// EncodeOpMsg builds the bytes of an OP_MSG request carrying command as its
// section-0 body, optionally compressed, for requestID.
func EncodeOpMsg(requestID int32, command bson.Raw, compressor Compressor) ([]byte, error) {
	var body []byte
	flags := make([]byte, 4)
	body = append(body, flags...)
	body = append(body, sectionKindBody)
	body = append(body, command...)

	if compressor != nil && compressor.ID() != CompressorNone {
		compressed, err := compressor.Compress(body)
		if err != nil {
			return nil, fmt.Errorf("wire: compress OP_MSG body: %w", err)
		}
		return wrapCompressed(requestID, OpMsg, compressor.ID(), int32(len(body)), compressed), nil
	}

	header := Header{MessageLength: int32(headerLen + len(body)), RequestID: requestID, OpCode: OpMsg}
	out := make([]byte, 0, header.MessageLength)
	out = appendHeader(out, header)
	out = append(out, body...)
	return out, nil
}

// EncodeOpQuery builds a legacy OP_QUERY request targeting admin.$cmd with
// numberToReturn=-1.
func EncodeOpQuery(requestID int32, command bson.Raw) []byte {
	body := make([]byte, 0, 4+len("admin.$cmd")+1+8+len(command))
	body = append(body, 0, 0, 0, 0) // flags
	body = append(body, []byte("admin.$cmd")...)
	body = append(body, 0)
	numberToSkip := make([]byte, 4)
	numberToReturn := make([]byte, 4)
	binary.LittleEndian.PutUint32(numberToReturn, uint32(int32(-1)))
	body = append(body, numberToSkip...)
	body = append(body, numberToReturn...)
	body = append(body, command...)

	header := Header{MessageLength: int32(headerLen + len(body)), RequestID: requestID, OpCode: OpQuery}
	out := make([]byte, 0, header.MessageLength)
	out = appendHeader(out, header)
	out = append(out, body...)
	return out
}

func appendHeader(out []byte, h Header) []byte {
	buf := make([]byte, headerLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.MessageLength))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.RequestID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.ResponseTo))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.OpCode))
	return append(out, buf...)
}

func wrapCompressed(requestID int32, originalOpCode OpCode, compressorID CompressorID, uncompressedSize int32, compressed []byte) []byte {
	body := make([]byte, 0, 9+len(compressed))
	opc := make([]byte, 4)
	binary.LittleEndian.PutUint32(opc, uint32(originalOpCode))
	body = append(body, opc...)
	sz := make([]byte, 4)
	binary.LittleEndian.PutUint32(sz, uint32(uncompressedSize))
	body = append(body, sz...)
	body = append(body, byte(compressorID))
	body = append(body, compressed...)

	header := Header{MessageLength: int32(headerLen + len(body)), RequestID: requestID, OpCode: OpCompressed}
	out := make([]byte, 0, header.MessageLength)
	out = appendHeader(out, header)
	out = append(out, body...)
	return out
}

// ReadMessage reads one full wire message (header + body) from r, decoding
// OP_MSG sections or an OP_REPLY body as appropriate. The returned message's
// Body is always the command reply document.
func ReadMessage(r io.Reader) (Message, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return Message{}, err
	}
	if header.MessageLength < headerLen {
		return Message{}, fmt.Errorf("wire: invalid message length %d", header.MessageLength)
	}
	payload := make([]byte, header.MessageLength-headerLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("wire: read body: %w", err)
	}

	switch header.OpCode {
	case OpMsg:
		return decodeOpMsg(payload)
	case OpReply:
		return decodeOpReply(payload)
	case OpCompressed:
		return decodeOpCompressed(payload)
	default:
		return Message{}, fmt.Errorf("wire: unsupported reply opcode %d", header.OpCode)
	}
}

// decodeOpCompressed decompresses an OP_COMPRESSED body (originalOpCode(4)
// uncompressedSize(4) compressorId(1) compressedBytes...) and dispatches the
// result to the opcode it actually carries.
func decodeOpCompressed(payload []byte) (Message, error) {
	if len(payload) < 9 {
		return Message{}, fmt.Errorf("wire: OP_COMPRESSED payload too short")
	}
	originalOpCode := OpCode(binary.LittleEndian.Uint32(payload[0:4]))
	uncompressedSize := int32(binary.LittleEndian.Uint32(payload[4:8]))
	compressorID := CompressorID(payload[8])
	compressed := payload[9:]

	compressor, ok := ByID(compressorID)
	if !ok {
		return Message{}, fmt.Errorf("wire: unrecognised OP_COMPRESSED compressor id %d", compressorID)
	}
	body, err := compressor.Decompress(compressed, int(uncompressedSize))
	if err != nil {
		return Message{}, fmt.Errorf("wire: decompress OP_COMPRESSED body: %w", err)
	}

	switch originalOpCode {
	case OpMsg:
		return decodeOpMsg(body)
	case OpReply:
		return decodeOpReply(body)
	default:
		return Message{}, fmt.Errorf("wire: unsupported compressed opcode %d", originalOpCode)
	}
}

func decodeOpMsg(payload []byte) (Message, error) {
	if len(payload) < 4 {
		return Message{}, fmt.Errorf("wire: OP_MSG payload too short")
	}
	flags := binary.LittleEndian.Uint32(payload[0:4])
	rest := payload[4:]

	msg := Message{Sequences: map[string][]bson.Raw{}}
	for len(rest) > 0 {
		kind := rest[0]
		rest = rest[1:]
		switch kind {
		case sectionKindBody:
			doc, consumed, err := readRawDoc(rest)
			if err != nil {
				return Message{}, err
			}
			msg.Body = doc
			rest = rest[consumed:]
		case sectionKindDocumentSequence:
			if len(rest) < 4 {
				return Message{}, fmt.Errorf("wire: truncated document sequence section")
			}
			size := int32(binary.LittleEndian.Uint32(rest[0:4]))
			if int(size) > len(rest) || size < 4 {
				return Message{}, fmt.Errorf("wire: invalid document sequence size %d", size)
			}
			section := rest[4:size]
			nameEnd := indexByte(section, 0)
			if nameEnd == -1 {
				return Message{}, fmt.Errorf("wire: malformed document sequence identifier")
			}
			name := string(section[:nameEnd])
			docs := section[nameEnd+1:]
			var seq []bson.Raw
			for len(docs) > 0 {
				doc, consumed, err := readRawDoc(docs)
				if err != nil {
					return Message{}, err
				}
				seq = append(seq, doc)
				docs = docs[consumed:]
			}
			msg.Sequences[name] = seq
			rest = rest[size:]
		default:
			return Message{}, fmt.Errorf("wire: unknown OP_MSG section kind %d", kind)
		}
	}

	msg.MoreToCome = flags&flagMoreToCome != 0
	return msg, nil
}

func decodeOpReply(payload []byte) (Message, error) {
	// responseFlags(4) cursorID(8) startingFrom(4) numberReturned(4) then docs
	if len(payload) < 20 {
		return Message{}, fmt.Errorf("wire: OP_REPLY payload too short")
	}
	docs := payload[20:]
	doc, _, err := readRawDoc(docs)
	if err != nil {
		return Message{}, err
	}
	return Message{Body: doc}, nil
}

func readRawDoc(b []byte) (bson.Raw, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("wire: truncated BSON document")
	}
	size := int32(binary.LittleEndian.Uint32(b[0:4]))
	if size < 5 || int(size) > len(b) {
		return nil, 0, fmt.Errorf("wire: invalid BSON document size %d", size)
	}
	return bson.Raw(b[:size]), int(size), nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
