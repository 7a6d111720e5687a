package config

import (
	"github.com/go-playground/validator/v10"

	"github.com/opsforge/opsforge/pkg/engine"
)

// RunRequest is the inbound request shape for one automation run.
type RunRequest struct {
	// Kind selects the service or procedure being automated.
	Kind engine.RunKind `json:"kind" yaml:"kind" validate:"required"`

	// Hosts are the run's target hosts.
	Hosts []engine.TargetHost `json:"hosts" yaml:"hosts" validate:"required,min=1,dive"`

	// ExtraVars are free-form variable overrides for the engine.
	ExtraVars map[string]interface{} `json:"extra_vars,omitempty" yaml:"extra_vars,omitempty"`
}

var validate = validator.New()

// ValidateRequest rejects invalid run requests before any engine
// process is spawned. This is the upstream validation collaborator;
// the execution pipeline itself never re-checks these rules.
func ValidateRequest(req RunRequest) error {
	if err := validate.Struct(req); err != nil {
		return engine.NewValidationError("invalid run request", err).
			WithCode(engine.ErrCodeValidation)
	}

	for _, h := range req.Hosts {
		switch h.AuthMode {
		case engine.AuthModePassword:
			if h.Password == "" {
				return engine.NewValidationError("password auth requires a password", nil).
					WithCode(engine.ErrCodeValidation).
					WithHost(h.Address)
			}
		case engine.AuthModeKey:
			if h.PrivateKey == "" {
				return engine.NewValidationError("key auth requires a private key", nil).
					WithCode(engine.ErrCodeValidation).
					WithHost(h.Address)
			}
		}
	}

	// A kubernetes run without a master cannot bootstrap a cluster.
	// Rejected here so the pipeline never special-cases it.
	if req.Kind == engine.KindKubernetes {
		hasMaster := false
		for _, h := range req.Hosts {
			if h.Role == "master" {
				hasMaster = true
				break
			}
		}
		if !hasMaster {
			return engine.NewValidationError("kubernetes run requires at least one master host", nil).
				WithCode(engine.ErrCodeNoMaster)
		}
	}

	return nil
}
