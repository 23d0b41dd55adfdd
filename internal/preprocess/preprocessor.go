// Package preprocess turns raw xnumon log records shipped by filebeat into
// normalized events attributed to an enrolled machine.
package preprocess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zentral/zentral/internal/domain"
)

// Tags attached to every xnumon event.
var xnumonTags = []string{"xnumon"}

// rawRecord is the filebeat envelope of one xnumon log line.
type rawRecord struct {
	TLSPeer string         `json:"tls_peer"`
	JSON    map[string]any `json:"json"`
	Agent   struct {
		Type    string `json:"type"`
		Version string `json:"version"`
	} `json:"agent"`
	FilebeatIPAddress string `json:"filebeat_ip_address"`
}

type tlsPeer struct {
	Subject string `json:"subject"`
}

// Preprocessor normalizes xnumon log records.
type Preprocessor struct {
	serials *SerialCache
	logger  zerolog.Logger
}

// NewPreprocessor creates a new Preprocessor.
func NewPreprocessor(serials *SerialCache, logger zerolog.Logger) *Preprocessor {
	return &Preprocessor{
		serials: serials,
		logger:  logger.With().Str("component", "preprocess").Str("routing_key", "xnumon_logs").Logger(),
	}
}

// Process returns the events of one raw record. The record is parsed when
// the sequence is first iterated; the sequence is single use.
//
// Records that cannot be parsed are logged and yield nothing. Records whose
// enrollment secret does not resolve to a machine are dropped silently.
func (p *Preprocessor) Process(ctx context.Context, raw []byte) iter.Seq[domain.Event] {
	used := false
	return func(yield func(domain.Event) bool) {
		if used {
			return
		}
		used = true

		events, err := p.events(ctx, raw)
		if err != nil {
			p.logger.Error().Err(err).Msg("could not process xnumon_log raw event")
			return
		}
		for _, event := range events {
			if !yield(event) {
				return
			}
		}
	}
}

func (p *Preprocessor) events(ctx context.Context, raw []byte) ([]domain.Event, error) {
	var record rawRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decoding raw event: %w", err)
	}
	secret, err := enrollmentSecret(record.TLSPeer)
	if err != nil {
		return nil, err
	}
	serial, ok, err := p.serials.SerialNumber(ctx, secret)
	if err != nil {
		return nil, err
	}
	if !ok {
		p.logger.Debug().Msg("unknown enrollment secret")
		return nil, nil
	}
	if record.JSON == nil {
		return nil, errors.New("missing json payload")
	}

	payload := record.JSON
	createdAt, err := popTime(payload)
	if err != nil {
		return nil, err
	}
	request := &domain.EventRequest{IP: record.FilebeatIPAddress}
	if record.Agent.Type != "" || record.Agent.Version != "" {
		request.UserAgent = record.Agent.Type + "/" + record.Agent.Version
	}
	return []domain.Event{{
		Metadata: domain.EventMetadata{
			ID:                  uuid.New().String(),
			Index:               0,
			Type:                domain.EventTypeXnumonLog,
			CreatedAt:           createdAt,
			MachineSerialNumber: serial,
			Request:             request,
			Tags:                xnumonTags,
		},
		Payload: payload,
	}}, nil
}

// enrollmentSecret extracts the secret from the common name of the TLS peer
// subject. The common name has the form "<label>$<secret>".
func enrollmentSecret(peer string) (string, error) {
	if peer == "" {
		return "", errors.New("missing tls_peer")
	}
	var p tlsPeer
	if err := json.Unmarshal([]byte(peer), &p); err != nil {
		return "", fmt.Errorf("decoding tls_peer: %w", err)
	}
	dn, err := ldap.ParseDN(p.Subject)
	if err != nil {
		return "", fmt.Errorf("parsing tls_peer subject: %w", err)
	}
	var cn string
	for _, rdn := range dn.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.EqualFold(attr.Type, "CN") {
				cn = attr.Value
			}
		}
	}
	parts := strings.Split(cn, "$")
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("invalid tls_peer common name %q", cn)
	}
	return parts[1], nil
}

func popTime(payload map[string]any) (t time.Time, err error) {
	v, ok := payload["time"].(string)
	if !ok {
		return t, errors.New("missing time")
	}
	t, err = dateparse.ParseAny(v)
	if err != nil {
		return t, fmt.Errorf("parsing time: %w", err)
	}
	delete(payload, "time")
	return t.UTC(), nil
}
