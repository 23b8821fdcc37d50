// Package request turns a user scan configuration into the command line the
// network mapper is invoked with, and parses such command lines back.
//
// Build is deterministic: the same ScanConfig always yields the same
// ScanRequest, and optional flags are emitted in one fixed order no matter
// how the configuration was assembled.
package request

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/mapperctl/internal/errors"
)

// DefaultProgram is the mapper invocation prefix used when none is configured.
const DefaultProgram = "python3 network_mapper.py"

// Mapper flags, in the order Build emits them.
const (
	FlagNetwork            = "-n"
	FlagOutput             = "-o"
	FlagThreads            = "-t"
	FlagVerbose            = "-v"
	FlagSkipVulnScan       = "--skip-vuln-scan"
	FlagSkipCredCheck      = "--skip-cred-check"
	FlagSkipFingerprinting = "--skip-fingerprinting"
	FlagInstallDeps        = "--install-deps"
)

// ScanConfig is the user-facing description of one scan.
type ScanConfig struct {
	NetworkRange       string `json:"network_range" yaml:"network_range" validate:"required,nowhitespace"`
	OutputPath         string `json:"output_path,omitempty" yaml:"output_path" validate:"omitempty,nowhitespace"`
	ThreadCount        int    `json:"thread_count,omitempty" yaml:"thread_count" validate:"gte=0"`
	Verbose            bool   `json:"verbose,omitempty" yaml:"verbose"`
	SkipVulnScan       bool   `json:"skip_vuln_scan,omitempty" yaml:"skip_vuln_scan"`
	SkipCredCheck      bool   `json:"skip_cred_check,omitempty" yaml:"skip_cred_check"`
	SkipFingerprinting bool   `json:"skip_fingerprinting,omitempty" yaml:"skip_fingerprinting"`
	InstallDeps        bool   `json:"install_deps,omitempty" yaml:"install_deps"`
}

// ScanRequest is the command descriptor derived from a ScanConfig.
type ScanRequest struct {
	Program string
	Args    []string
}

// Command renders the request as a single space-separated command string.
func (r ScanRequest) Command() string {
	return strings.Join(r.Argv(), " ")
}

// Argv returns the program tokens followed by the arguments, ready for exec.
func (r ScanRequest) Argv() []string {
	argv := strings.Fields(r.Program)
	return append(argv, r.Args...)
}

// Builder builds and parses mapper command lines for one program prefix.
type Builder struct {
	program  string
	validate *validator.Validate
}

// NewBuilder creates a builder. An empty program selects DefaultProgram.
func NewBuilder(program string) *Builder {
	program = strings.Join(strings.Fields(program), " ")
	if program == "" {
		program = DefaultProgram
	}
	return &Builder{
		program:  program,
		validate: newValidator(),
	}
}

// Program returns the normalized program prefix.
func (b *Builder) Program() string {
	return b.program
}

// Validate checks a configuration without building it.
func (b *Builder) Validate(cfg ScanConfig) error {
	if strings.TrimSpace(cfg.NetworkRange) == "" {
		return errors.ErrInvalidConfig("network_range", "network range is required")
	}
	if err := b.validate.Struct(cfg); err != nil {
		return translateValidationError(err)
	}
	return nil
}

// Build validates cfg and produces its command descriptor.
func (b *Builder) Build(cfg ScanConfig) (ScanRequest, error) {
	if err := b.Validate(cfg); err != nil {
		return ScanRequest{}, err
	}

	args := []string{FlagNetwork, cfg.NetworkRange}
	if cfg.OutputPath != "" {
		args = append(args, FlagOutput, cfg.OutputPath)
	}
	if cfg.ThreadCount > 0 {
		args = append(args, FlagThreads, strconv.Itoa(cfg.ThreadCount))
	}
	if cfg.Verbose {
		args = append(args, FlagVerbose)
	}
	if cfg.SkipVulnScan {
		args = append(args, FlagSkipVulnScan)
	}
	if cfg.SkipCredCheck {
		args = append(args, FlagSkipCredCheck)
	}
	if cfg.SkipFingerprinting {
		args = append(args, FlagSkipFingerprinting)
	}
	if cfg.InstallDeps {
		args = append(args, FlagInstallDeps)
	}

	return ScanRequest{Program: b.program, Args: args}, nil
}

// Parse reads a command produced by Build back into a ScanConfig.
// Anything Build would never emit is rejected with INVALID_CONFIG.
func (b *Builder) Parse(command string) (ScanConfig, error) {
	tokens := strings.Fields(command)
	prefix := strings.Fields(b.program)
	if len(tokens) < len(prefix) {
		return ScanConfig{}, errors.ErrInvalidConfig("command", "command does not invoke the mapper")
	}
	for i, tok := range prefix {
		if tokens[i] != tok {
			return ScanConfig{}, errors.ErrInvalidConfig("command", "command does not invoke the mapper")
		}
	}

	var cfg ScanConfig
	rest := tokens[len(prefix):]
	for i := 0; i < len(rest); i++ {
		flag := rest[i]
		switch flag {
		case FlagNetwork, "--network", FlagOutput, "--output", FlagThreads, "--threads":
			if i+1 >= len(rest) {
				return ScanConfig{}, errors.ErrInvalidConfig("command", "flag "+flag+" requires a value")
			}
			i++
			if err := applyValueFlag(&cfg, flag, rest[i]); err != nil {
				return ScanConfig{}, err
			}
		case FlagVerbose, "--verbose":
			cfg.Verbose = true
		case FlagSkipVulnScan:
			cfg.SkipVulnScan = true
		case FlagSkipCredCheck:
			cfg.SkipCredCheck = true
		case FlagSkipFingerprinting:
			cfg.SkipFingerprinting = true
		case FlagInstallDeps:
			cfg.InstallDeps = true
		default:
			return ScanConfig{}, errors.ErrInvalidConfig("command", "unsupported argument "+flag)
		}
	}

	if err := b.Validate(cfg); err != nil {
		return ScanConfig{}, err
	}
	return cfg, nil
}

func applyValueFlag(cfg *ScanConfig, flag, value string) error {
	switch flag {
	case FlagNetwork, "--network":
		cfg.NetworkRange = value
	case FlagOutput, "--output":
		cfg.OutputPath = value
	default:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return errors.ErrInvalidConfig("thread_count", "thread count must be a positive integer")
		}
		cfg.ThreadCount = n
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("nowhitespace", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), " \t\r\n")
	})
	return v
}

func translateValidationError(err error) error {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrs) == 0 {
		return errors.WrapScanError(errors.CodeInvalidConfig, "invalid scan configuration", err)
	}

	fe := validationErrs[0]
	var reason string
	switch fe.Tag() {
	case "required":
		reason = fe.Field() + " is required"
	case "nowhitespace":
		reason = fe.Field() + " must not contain whitespace"
	case "gte":
		reason = fe.Field() + " must not be negative"
	default:
		reason = fe.Field() + " failed " + fe.Tag() + " validation"
	}
	return errors.ErrInvalidConfig(fe.Field(), reason)
}
