package evaluator

import (
	"context"
	"fmt"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
	"github.com/OrlandoBitencourt/flagsync/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// Reason explains which branch of the evaluation produced a value.
type Reason string

const (
	ReasonMissingConfig Reason = "missing_config"
	ReasonUnknownKey    Reason = "unknown_key"
	ReasonNoUser        Reason = "no_user"
	ReasonTargetingRule Reason = "targeting_rule"
	ReasonPercentage    Reason = "percentage"
	ReasonDefault       Reason = "default"
)

// Detail is the full outcome of one evaluation.
type Detail struct {
	Key    string `json:"key"`
	Value  any    `json:"value"`
	Reason Reason `json:"reason"`

	// MatchedRule is the index of the matching targeting rule, -1 otherwise
	MatchedRule int `json:"matched_rule"`

	// Bucket is the drawn percentage bucket, -1 when no draw happened
	Bucket int `json:"bucket"`
}

// Evaluator defines the interface for flag evaluation
type Evaluator interface {
	// Evaluate resolves the value of key for the optional user
	Evaluate(ctx context.Context, cfg *domain.ProjectConfig, key string, defaultValue any, user *domain.User) any

	// EvaluateDetail resolves the value and reports how it was chosen
	EvaluateDetail(ctx context.Context, cfg *domain.ProjectConfig, key string, defaultValue any, user *domain.User) Detail
}

// RolloutEvaluator evaluates targeting rules and percentage rollouts locally.
// It holds no state between calls.
type RolloutEvaluator struct {
	logger    logrus.FieldLogger
	telemetry telemetry.Provider
}

// Option configures a RolloutEvaluator
type Option func(*RolloutEvaluator)

// WithLogger sets the logger used for missing config and unknown keys
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *RolloutEvaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTelemetry sets the telemetry provider
func WithTelemetry(provider telemetry.Provider) Option {
	return func(e *RolloutEvaluator) {
		if provider != nil {
			e.telemetry = provider
		}
	}
}

// New creates a new rollout evaluator
func New(opts ...Option) *RolloutEvaluator {
	e := &RolloutEvaluator{
		logger:    logrus.StandardLogger(),
		telemetry: telemetry.NewNoOp(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate resolves the value of key. It never fails: every problem
// falls back to defaultValue or the flag's own default.
func (e *RolloutEvaluator) Evaluate(ctx context.Context, cfg *domain.ProjectConfig, key string, defaultValue any, user *domain.User) any {
	return e.EvaluateDetail(ctx, cfg, key, defaultValue, user).Value
}

// EvaluateDetail resolves the value of key and reports the reason
func (e *RolloutEvaluator) EvaluateDetail(ctx context.Context, cfg *domain.ProjectConfig, key string, defaultValue any, user *domain.User) Detail {
	detail := e.evaluate(cfg, key, defaultValue, user)
	e.telemetry.RecordEvaluation(ctx, key, string(detail.Reason))
	return detail
}

func (e *RolloutEvaluator) evaluate(cfg *domain.ProjectConfig, key string, defaultValue any, user *domain.User) Detail {
	detail := Detail{Key: key, Value: defaultValue, MatchedRule: -1, Bucket: -1}

	if cfg.IsEmpty() {
		e.logger.Errorf("config document is not present, returning default value for %q", key)
		detail.Reason = ReasonMissingConfig
		return detail
	}

	def, ok := cfg.Document.Lookup(key)
	if !ok {
		e.logger.WithField("flag.key", key).Errorf("unknown key: %q", key)
		detail.Reason = ReasonUnknownKey
		return detail
	}

	detail.Value = def.Value

	if user == nil {
		detail.Reason = ReasonNoUser
		return detail
	}

	if idx, value, matched := evaluateRules(def.RolloutRules, user); matched {
		detail.Value = value
		detail.Reason = ReasonTargetingRule
		detail.MatchedRule = idx
		return detail
	}

	if len(def.RolloutPercentageItems) > 0 {
		bucket := Bucket(key, user.Identifier)
		detail.Bucket = bucket

		if value, matched := evaluateVariations(def.RolloutPercentageItems, bucket); matched {
			detail.Value = value
			detail.Reason = ReasonPercentage
			return detail
		}
	}

	detail.Reason = ReasonDefault
	return detail
}

// String returns a compact description of the detail, used in logs and the CLI
func (d Detail) String() string {
	switch d.Reason {
	case ReasonTargetingRule:
		return fmt.Sprintf("%s=%v (rule %d)", d.Key, d.Value, d.MatchedRule)
	case ReasonPercentage:
		return fmt.Sprintf("%s=%v (bucket %d)", d.Key, d.Value, d.Bucket)
	default:
		return fmt.Sprintf("%s=%v (%s)", d.Key, d.Value, d.Reason)
	}
}
