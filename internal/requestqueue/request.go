// Package requestqueue implements the durable FIFO RemoteStore enqueues HTTP
// requests onto (spec §4.10): append/prepend/nextRequest/removeRequests plus
// a response-handler registry fanning dequeue results out to listeners.
// Backed by go.etcd.io/bbolt, grounded on the teacher's
// pkg/storage/boltdb.go bucket-per-collection, JSON-value convention.
package requestqueue

import (
	"encoding/json"
	"time"

	"github.com/scribd/lucid/internal/entity"
)

// Request wraps the HTTP request config RemoteStore computed, plus the
// identifiers it affects (APIClientQueueRequest in spec §4.9 step 2).
type Request struct {
	Token       string
	Method      string
	Path        string
	Body        []byte
	Identifiers []entity.Identifier
	EnqueuedAt  time.Time
}

type requestRecord struct {
	Token       string               `json:"token"`
	Method      string               `json:"method"`
	Path        string               `json:"path"`
	Body        []byte               `json:"body"`
	Identifiers []identifierRecord   `json:"identifiers"`
	EnqueuedAt  time.Time            `json:"enqueued_at"`
}

type identifierRecord struct {
	TypeTag string `json:"type_tag"`
	Remote  int64  `json:"remote"`
	Local   string `json:"local"`
}

func toRecord(r Request) requestRecord {
	ids := make([]identifierRecord, len(r.Identifiers))
	for i, id := range r.Identifiers {
		ids[i] = identifierRecord{TypeTag: id.TypeTag, Remote: id.Remote, Local: id.Local}
	}
	return requestRecord{
		Token: r.Token, Method: r.Method, Path: r.Path, Body: r.Body,
		Identifiers: ids, EnqueuedAt: r.EnqueuedAt,
	}
}

func fromRecord(rec requestRecord) Request {
	ids := make([]entity.Identifier, len(rec.Identifiers))
	for i, idr := range rec.Identifiers {
		switch {
		case idr.Remote != 0 && idr.Local != "":
			ids[i] = entity.NewDualIdentifier(idr.TypeTag, idr.Remote, idr.Local)
		case idr.Remote != 0:
			ids[i] = entity.NewRemoteIdentifier(idr.TypeTag, idr.Remote)
		default:
			ids[i] = entity.NewLocalIdentifier(idr.TypeTag, idr.Local)
		}
	}
	return Request{
		Token: rec.Token, Method: rec.Method, Path: rec.Path, Body: rec.Body,
		Identifiers: ids, EnqueuedAt: rec.EnqueuedAt,
	}
}

func marshalRequest(r Request) ([]byte, error) {
	return json.Marshal(toRecord(r))
}

func unmarshalRequest(data []byte) (Request, error) {
	var rec requestRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Request{}, err
	}
	return fromRecord(rec), nil
}
