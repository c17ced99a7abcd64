package monitor

import (
	"time"

	"github.com/cloudresty/mongocore/description"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// buildHelloCommand builds the hello command document for one probe,
// adding topologyVersion/maxAwaitTimeMS for the awaitable variant.
// compressors is only non-empty on the handshake call: the wire compression
// spec requires it be advertised there and nowhere else.
func buildHelloCommand(appName string, awaitable bool, tv *description.TopologyVersion, heartbeatFrequency time.Duration, compressors []string) bson.Raw {
	elems := bson.D{
		{Key: "hello", Value: int32(1)},
		{Key: "client", Value: clientMetadata(appName)},
	}
	if len(compressors) > 0 {
		elems = append(elems, bson.E{Key: "compression", Value: compressors})
	}
	if awaitable && tv != nil {
		elems = append(elems,
			bson.E{Key: "topologyVersion", Value: bson.D{
				{Key: "processId", Value: tv.ProcessID},
				{Key: "counter", Value: tv.Counter},
			}},
			bson.E{Key: "maxAwaitTimeMS", Value: heartbeatFrequency.Milliseconds()},
		)
	}
	doc, err := bson.Marshal(elems)
	if err != nil {
		// Marshalling a bson.D of static, well-typed fields cannot fail.
		panic(err)
	}
	return bson.Raw(doc)
}

func clientMetadata(appName string) bson.D {
	d := bson.D{
		{Key: "driver", Value: bson.D{
			{Key: "name", Value: "mongocore"},
			{Key: "version", Value: "0.1.0"},
		}},
		{Key: "os", Value: bson.D{
			{Key: "type", Value: "unknown"},
		}},
	}
	if appName != "" {
		d = append(d, bson.E{Key: "application", Value: bson.D{{Key: "name", Value: appName}}})
	}
	return d
}
