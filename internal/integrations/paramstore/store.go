// Package paramstore resolves configuration and API secrets for the Lambda
// functions. Values come from the process environment when set, and from AWS
// SSM Parameter Store otherwise.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the subset of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the lookup contract consumed by the LLM and messaging clients.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// SSM reads decrypted parameters by their full path.
type SSM struct {
	api ssmAPI
}

func NewSSM(api ssmAPI) (*SSM, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &SSM{api: api}, nil
}

func (s *SSM) GetParameter(ctx context.Context, name string) (string, error) {
	if s == nil || s.api == nil {
		return "", errors.New("paramstore: ssm client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	return *out.Parameter.Value, nil
}

// Secrets looks a secret up by its environment variable name. When the
// variable is unset it falls back to SSM at <prefix>/<kebab-case name>, e.g.
// AGENT_ROUTER_API_KEY -> /neuroexpert/agent-router-api-key. SSM values may be
// plain strings or {"token":"..."} documents.
type Secrets struct {
	ssm       Getter
	prefix    string
	lookupEnv func(string) (string, bool)
}

// NewSecrets builds a resolver. ssm may be nil, in which case only the
// environment is consulted.
func NewSecrets(ssm Getter, prefix string) *Secrets {
	return &Secrets{
		ssm:       ssm,
		prefix:    strings.TrimRight(strings.TrimSpace(prefix), "/"),
		lookupEnv: os.LookupEnv,
	}
}

type tokenPayload struct {
	Token string `json:"token"`
}

func (s *Secrets) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: secret name is required")
	}
	if v, ok := s.lookupEnv(name); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	if s.ssm == nil || s.prefix == "" {
		return "", fmt.Errorf("paramstore: secret %s is not set", name)
	}

	raw, err := s.ssm.GetParameter(ctx, s.ParameterPath(name))
	if err != nil {
		return "", err
	}
	return decodeSecret(name, raw)
}

// ParameterPath maps an environment variable name to its SSM path.
func (s *Secrets) ParameterPath(name string) string {
	return s.prefix + "/" + strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

func decodeSecret(name, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("paramstore: unmarshal secret %s: %w", name, err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", fmt.Errorf("paramstore: secret %s is empty", name)
	}
	return raw, nil
}
