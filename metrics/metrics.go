// Package metrics exports graph activity to Prometheus.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacentio/setlist/entity"
)

const (
	namespace = "setlist"

	MetricPersisted   = "persisted_total"
	MetricUnpersisted = "unpersisted_total"
	MetricViolations  = "violations_total"
)

// reasons names the integrity sentinels used as the violation label.
var reasons = []struct {
	err  error
	name string
}{
	{entity.ErrMissingSimpleKey, "missing_simple_key"},
	{entity.ErrDuplicateTopLevelKey, "duplicate_top_level_key"},
	{entity.ErrDuplicateKey, "duplicate_key"},
	{entity.ErrMissingMandatoryParent, "missing_mandatory_parent"},
	{entity.ErrReferencedByChildren, "referenced_by_children"},
	{entity.ErrChildNotFound, "child_not_found"},
	{entity.ErrKeyNotFound, "key_not_found"},
	{entity.ErrAlreadyParented, "already_parented"},
	{entity.ErrUnsupportedRelation, "unsupported_relation"},
	{entity.ErrNullChild, "null_child"},
	{entity.ErrConstraintViolation, "constraint_violation"},
	{entity.ErrNotFound, "not_found"},
	{entity.ErrNotSingleton, "not_singleton"},
	{entity.ErrParentNotFound, "parent_not_found"},
	{entity.ErrAlreadyDeleted, "already_deleted"},
	{entity.ErrReadOnly, "read_only"},
	{entity.ErrTxDone, "tx_done"},
}

// Reason returns the violation label for err, or "other".
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.name
		}
	}
	return "other"
}

// Collector counts graph writes and integrity violations. It implements
// entity.Observer; pass it to entity.WithObserver.
type Collector struct {
	persisted   *prometheus.CounterVec
	unpersisted *prometheus.CounterVec
	violations  *prometheus.CounterVec
}

var _ entity.Observer = (*Collector)(nil)

// NewCollector creates the counters and registers them on reg. A nil reg
// leaves them unregistered.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		persisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricPersisted,
				Help:      "Entities written, by type.",
			},
			[]string{"type"},
		),
		unpersisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricUnpersisted,
				Help:      "Entities deleted, by type.",
			},
			[]string{"type"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricViolations,
				Help:      "Integrity errors raised, by type and reason.",
			},
			[]string{"type", "reason"},
		),
	}
	if reg == nil {
		return c, nil
	}
	for _, cv := range []prometheus.Collector{c.persisted, c.unpersisted, c.violations} {
		if err := reg.Register(cv); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) Persisted(t entity.Type) {
	c.persisted.WithLabelValues(string(t)).Inc()
}

func (c *Collector) Unpersisted(t entity.Type) {
	c.unpersisted.WithLabelValues(string(t)).Inc()
}

func (c *Collector) Violation(t entity.Type, err error) {
	c.violations.WithLabelValues(string(t), Reason(err)).Inc()
}
