package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-sales-approvals/internal/approval"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-sales-approvals/internal/repository"
)

// SettingsStore is the key/value parameter store holding approval settings.
type SettingsStore interface {
	GetParams(ctx context.Context, keys []string) (map[string]string, error)
	SetParams(ctx context.Context, params map[string]string) error
}

// SettingsService reads and writes the approval range configuration.
type SettingsService struct {
	store SettingsStore
	users UserDirectory
	audit AuditLog
	log   *logger.Logger
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(store SettingsStore, users UserDirectory, audit AuditLog, log *logger.Logger) *SettingsService {
	return &SettingsService{store: store, users: users, audit: audit, log: log}
}

func settingsKeys() []string {
	keys := []string{approval.KeyEnabled}
	for i := 1; i <= approval.RangeCount; i++ {
		keys = append(keys, approval.MinKey(i), approval.ApproverKey(i))
		if i < approval.RangeCount {
			keys = append(keys, approval.MaxKey(i))
		}
	}
	return keys
}

// GetSettings loads the current settings. It never caches: every evaluation
// sees the latest stored values.
func (s *SettingsService) GetSettings(ctx context.Context) (approval.Settings, error) {
	params, err := s.store.GetParams(ctx, settingsKeys())
	if err != nil {
		return approval.Settings{}, err
	}

	settings := approval.DefaultSettings()
	if raw, ok := params[approval.KeyEnabled]; ok {
		enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			s.log.Warn().Str("key", approval.KeyEnabled).Str("value", raw).Msg("Malformed boolean setting, treating as disabled")
		}
		settings.Enabled = enabled
	}

	for i := range settings.Ranges {
		n := i + 1
		r := &settings.Ranges[i]
		if raw, ok := params[approval.MinKey(n)]; ok {
			r.Min = s.parseAmount(approval.MinKey(n), raw)
		}
		if n < approval.RangeCount {
			if raw, ok := params[approval.MaxKey(n)]; ok {
				ceiling := s.parseAmount(approval.MaxKey(n), raw)
				r.Max = &ceiling
			}
		}
		r.Approver = params[approval.ApproverKey(n)]
	}
	return settings, nil
}

// parseAmount reads a stored amount. Malformed values are logged and read as zero.
func (s *SettingsService) parseAmount(key, raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		s.log.Warn().Str("key", key).Str("value", raw).Msg("Malformed amount setting, treating as zero")
		return decimal.Zero
	}
	return d
}

// UpdateSettings validates and stores a new configuration. Only sales managers
// may change it, and every configured approver must be an active user.
func (s *SettingsService) UpdateSettings(ctx context.Context, settings approval.Settings, actorID int64) error {
	actor, err := resolveActor(ctx, s.users, actorID)
	if err != nil {
		return err
	}
	if !actor.IsSalesManager {
		return errors.Unauthorized("only sales managers can change approval settings")
	}

	if err := settings.Validate(); err != nil {
		return err
	}

	params := map[string]string{approval.KeyEnabled: strconv.FormatBool(settings.Enabled)}
	for i, r := range settings.Ranges {
		n := i + 1
		approver := strings.TrimSpace(r.Approver)
		if approver != "" && !r.Disabled() {
			id, ok := approval.ParseApproverID(approver)
			if !ok {
				return errors.InvalidInput(approval.ApproverKey(n), fmt.Sprintf("Range %d: approver must be a user id", n))
			}
			if _, err := s.users.GetByID(ctx, id); err != nil {
				if errors.HasCode(err, errors.ErrCodeNotFound) {
					return errors.InvalidInput(approval.ApproverKey(n), fmt.Sprintf("Range %d: approver %d does not exist", n, id))
				}
				return err
			}
		}

		params[approval.MinKey(n)] = r.Min.String()
		params[approval.ApproverKey(n)] = approver
		if n < approval.RangeCount {
			ceiling := decimal.Zero
			if r.Max != nil {
				ceiling = *r.Max
			}
			params[approval.MaxKey(n)] = ceiling.String()
		}
	}

	if err := s.store.SetParams(ctx, params); err != nil {
		return err
	}

	s.log.Info().
		Int64("user_id", actor.ID).
		Bool("enabled", settings.Enabled).
		Msg("Approval settings updated")

	appendAudit(ctx, s.audit, s.log, &repository.AuditEntry{
		Action:      repository.AuditActionSettingsChanged,
		PerformedBy: actor.ID,
		Metadata:    toMetadata(params),
	})
	return nil
}

func toMetadata(params map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
