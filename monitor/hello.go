package monitor

import (
	"strings"
	"time"

	"github.com/cloudresty/mongocore/description"
	"github.com/cloudresty/mongocore/mongocoreerr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// parseHello turns one hello/isMaster reply document into a description.Server
// snapshot for addr, classifying its ServerKind per the ingestion
// table inputs.
func parseHello(id uint64, addr string, doc bson.Raw, rtt time.Duration, rttSet bool) (description.Server, error) {
	var body struct {
		OK                           float64            `bson:"ok"`
		IsWritablePrimary            *bool               `bson:"isWritablePrimary"`
		IsMaster                     *bool               `bson:"ismaster"`
		Secondary                    bool                `bson:"secondary"`
		ArbiterOnly                  bool                `bson:"arbiterOnly"`
		Hidden                       bool                `bson:"hidden"`
		Msg                          string              `bson:"msg"`
		SetName                      string              `bson:"setName"`
		SetVersion                   *int64              `bson:"setVersion"`
		ElectionID                   *bson.ObjectID      `bson:"electionId"`
		Primary                      string              `bson:"primary"`
		Hosts                        []string            `bson:"hosts"`
		Passives                     []string            `bson:"passives"`
		Arbiters                     []string            `bson:"arbiters"`
		Tags                         map[string]string   `bson:"tags"`
		MaxWireVersion               int32               `bson:"maxWireVersion"`
		MinWireVersion               int32               `bson:"minWireVersion"`
		MaxMessageSizeBytes          uint32              `bson:"maxMessageSizeBytes"`
		MaxBsonObjectSize            uint32              `bson:"maxBsonObjectSize"`
		LogicalSessionTimeoutMinutes *int64              `bson:"logicalSessionTimeoutMinutes"`
		HelloOk                      bool                `bson:"helloOk"`
		ServiceID                    *bson.ObjectID      `bson:"serviceId"`
		TopologyVersion              *topologyVersionDoc `bson:"topologyVersion"`
	}
	if err := bson.Unmarshal(doc, &body); err != nil {
		return description.Server{}, mongocoreerr.Wrap(mongocoreerr.KindProtocolReply, err, "unmarshal hello reply from %s", addr)
	}
	if body.OK != 1 {
		return description.Server{}, mongocoreerr.New(mongocoreerr.KindCommandError, "hello reply from %s: ok != 1", addr)
	}

	s := description.Server{
		ID:      id,
		Address: addr,
		WireVersion: description.WireRange{
			Min: body.MinWireVersion,
			Max: body.MaxWireVersion,
		},
		MaxMessageSize:               nonZeroOr(body.MaxMessageSizeBytes, 48_000_000),
		MaxBSONObjSize:                nonZeroOr(body.MaxBsonObjectSize, 16_777_216),
		SetName:                       body.SetName,
		SetVersion:                    body.SetVersion,
		Primary:                       body.Primary,
		Hosts:                         lowerAll(body.Hosts),
		Passives:                      lowerAll(body.Passives),
		Arbiters:                      lowerAll(body.Arbiters),
		Tags:                          body.Tags,
		LogicalSessionTimeoutMinutes:  body.LogicalSessionTimeoutMinutes,
		HelloOk:                       body.HelloOk,
		ServiceID:                     body.ServiceID,
	}
	if rttSet {
		s = s.SetAverageRTT(rtt)
	}
	if body.ElectionID != nil {
		s.ElectionID = *body.ElectionID
	}
	if body.TopologyVersion != nil {
		s.TopologyVersion = description.TopologyVersion{
			ProcessID: body.TopologyVersion.ProcessID,
			Counter:   body.TopologyVersion.Counter,
		}
	}

	isPrimary := (body.IsWritablePrimary != nil && *body.IsWritablePrimary) || (body.IsMaster != nil && *body.IsMaster)

	switch {
	case body.Msg == "isdbgrid":
		s.Kind = description.Mongos
	case body.SetName != "":
		switch {
		case isPrimary:
			s.Kind = description.RSPrimary
		case body.Secondary:
			s.Kind = description.RSSecondary
		case body.ArbiterOnly:
			s.Kind = description.RSArbiter
		case body.Hidden, len(body.Hosts) > 0, len(body.Passives) > 0, len(body.Arbiters) > 0:
			s.Kind = description.RSOther
		default:
			s.Kind = description.RSGhost
		}
	case body.ServiceID != nil:
		s.Kind = description.LoadBalancer
	default:
		s.Kind = description.Standalone
	}

	return s, nil
}

type topologyVersionDoc struct {
	ProcessID bson.ObjectID `bson:"processId"`
	Counter   int64         `bson:"counter"`
}

func nonZeroOr(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}

func lowerAll(hosts []string) []string {
	if hosts == nil {
		return nil
	}
	out := make([]string, len(hosts))
	for i, h := range hosts {
		out[i] = strings.ToLower(h)
	}
	return out
}
