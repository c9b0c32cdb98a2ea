// Package monitor implements the monitor accounting engine (C4): additive
// per-key counters over queues and topics, keyed by project/type/name,
// behind a storage-backed Controller interface. Besides the in-process
// monitor/memstore, two backed stores ship: a Redis HINCRBY-backed store
// (monitor/redisstore) for atomic server-side increments and a Postgres
// store (monitor/pgstore) for durable relational deployments.
package monitor

import (
	"context"
	"errors"
)

// Type distinguishes queue monitors from topic monitors.
type Type string

const (
	TypeQueue Type = "queues"
	TypeTopic Type = "topics"
)

// CountType selects which counters an Update call touches.
type CountType string

const (
	SendMessages      CountType = "send_messages"
	PublishMessages   CountType = "publish_messages"
	ConsumeMessages   CountType = "consume_messages"
	SubscribeMessages CountType = "subscribe_messages"
)

// Counter field short names, matching the wire vocabulary used across
// monitor records.
const (
	FieldMC   = "mc"
	FieldMB   = "mb"
	FieldBMC  = "bmc"
	FieldBMB  = "bmb"
	FieldCMC  = "cmc"
	FieldCMB  = "cmb"
	FieldTSMC = "tsmc"
	FieldTSMB = "tsmb"
	FieldSMC  = "smc"
	FieldSMB  = "smb"
)

// ErrAlreadyExists is returned by Create when the key is already present.
var ErrAlreadyExists = errors.New("monitor already exists")

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("monitor not found")

// Key identifies a monitor record.
type Key struct {
	Project string
	Type    Type
	Name    string
}

// String renders the persisted key shape "project/type/name".
func (k Key) String() string {
	return k.Project + "/" + string(k.Type) + "/" + k.Name
}

// Record is a normalized monitor record as returned to callers: counts are
// integers, byte counters are kilobytes.
type Record struct {
	Key     Key
	Counts  map[string]int64
	KBytes  map[string]float64
	// Derived queue-only fields. No Controller implementation and no
	// caller fills them in from live queue counts, so Get and List return
	// them as zero.
	ActiveMsgs   int64
	InactiveMsgs int64
	DelayedMsgs  int64
	DeletedMsgs  int64
}

// QueueCountFields and TopicCountFields enumerate the raw counters a
// record of each type carries, used to zero-initialize and to decide which
// fields Normalize should emit.
var (
	QueueCountFields = []string{FieldMC, FieldMB, FieldBMC, FieldBMB, FieldCMC, FieldCMB}
	TopicCountFields = []string{FieldMC, FieldMB, FieldBMC, FieldBMB, FieldTSMC, FieldTSMB, FieldSMC, FieldSMB}
)

func fieldsFor(t Type) []string {
	if t == TypeQueue {
		return QueueCountFields
	}
	return TopicCountFields
}

func isByteField(field string) bool {
	switch field {
	case FieldMB, FieldBMB, FieldCMB, FieldTSMB, FieldSMB:
		return true
	default:
		return false
	}
}

// zero returns a zero-initialized counter map for the given type.
func zero(t Type) map[string]int64 {
	m := make(map[string]int64)
	for _, f := range fieldsFor(t) {
		m[f] = 0
	}
	return m
}

// Delta is the set of raw counter increments an Update call applies,
// computed from count_type/success by the update-rules table below.
type Delta struct {
	Type   Type
	Fields map[string]int64
}

// ComputeDelta implements the update-rules table: given a message batch
// size n and serialized-byte total b, return which fields on which record
// type get incremented.
func ComputeDelta(countType CountType, success bool, n int, b int64) (Delta, error) {
	switch countType {
	case SendMessages:
		return bulkOrSingle(TypeQueue, n, b, FieldMC, FieldMB, FieldBMC, FieldBMB), nil
	case PublishMessages:
		return bulkOrSingle(TypeTopic, n, b, FieldMC, FieldMB, FieldBMC, FieldBMB), nil
	case ConsumeMessages:
		return Delta{Type: TypeQueue, Fields: map[string]int64{FieldCMC: int64(n), FieldCMB: b}}, nil
	case SubscribeMessages:
		if success {
			return Delta{Type: TypeTopic, Fields: map[string]int64{FieldSMC: int64(n), FieldSMB: b}}, nil
		}
		return Delta{Type: TypeTopic, Fields: map[string]int64{FieldTSMC: int64(n), FieldTSMB: b}}, nil
	default:
		return Delta{}, errors.New("monitor: unknown count_type")
	}
}

func bulkOrSingle(t Type, n int, b int64, singleCount, singleBytes, bulkCount, bulkBytes string) Delta {
	if n == 1 {
		return Delta{Type: t, Fields: map[string]int64{singleCount: int64(n), singleBytes: b}}
	}
	return Delta{Type: t, Fields: map[string]int64{bulkCount: int64(n), bulkBytes: b}}
}

// Normalize converts raw integer counters into the external Record shape:
// counts stay integers, *_bytes fields become kilobytes as floats.
func Normalize(key Key, raw map[string]int64) Record {
	rec := Record{Key: key, Counts: map[string]int64{}, KBytes: map[string]float64{}}
	for _, f := range fieldsFor(key.Type) {
		v := raw[f]
		if isByteField(f) {
			rec.KBytes[f] = float64(v) / 1024
		} else {
			rec.Counts[f] = v
		}
	}
	return rec
}

// Page is one page of a List call: records in key order greater than the
// requested marker, plus the marker to request the next page.
type Page struct {
	Records    []Record
	NextMarker string
}

// ListOptions filters and paginates List.
type ListOptions struct {
	Type       Type // empty means both types
	Project    string
	AllProject bool
	Marker     string
	Limit      int
}

// Controller is the monitor accounting engine's storage contract (C4).
// Update takes project/name rather than a Key because the target record
// type is implied by countType's update-rules table, not chosen by the
// caller.
type Controller interface {
	Create(ctx context.Context, key Key) error
	Get(ctx context.Context, key Key) (Record, error)
	List(ctx context.Context, opts ListOptions) (Page, error)
	Update(ctx context.Context, project, name string, countType CountType, success bool, n int, b int64) error
}
