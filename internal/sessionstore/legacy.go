package sessionstore

import (
	"context"
	"strconv"

	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
)

// MigrateLegacy folds the flat keys written by older clients into the
// canonical identity record and deletes them. It runs once per durable store;
// the schema version key records that it has. A canonical record, when
// present, always wins over legacy data. The admin flag is kept as is.
//
// It reports whether a migration ran.
func (s *Store) MigrateLegacy(ctx context.Context) bool {
	if v, _ := s.get(ctx, s.tiers.Durable, models.TierDurable, SchemaVersionKey); v == currentSchemaVer {
		return false
	}

	_, hasIdentity := s.get(ctx, s.tiers.Durable, models.TierDurable, IdentityKey)
	if !hasIdentity {
		if rec, ok := s.legacyIdentity(ctx); ok {
			s.writeIdentity(ctx, rec)
			s.log.Info("migrated legacy identity", "user_id", rec.ID)
		}
	}

	if token := s.LegacyToken(ctx); token != "" {
		if _, ok := s.getCookie(TokenCookie); !ok {
			s.setCookie(TokenCookie, token, s.cookieOptions(token))
			s.log.Info("migrated legacy token into cookie")
		}
	}

	if _, ok := s.get(ctx, s.tiers.Durable, models.TierDurable, AdminFlagKey); !ok && s.LegacyAdminFlag(ctx) {
		s.SetAdminFlag(ctx, true)
	}

	for _, k := range legacyKeys {
		s.del(ctx, s.tiers.Durable, models.TierDurable, k)
	}
	s.set(ctx, s.tiers.Durable, models.TierDurable, SchemaVersionKey, currentSchemaVer)
	return true
}

// legacyIdentity reads the user blob, falling back to the individual keys.
func (s *Store) legacyIdentity(ctx context.Context) (models.IdentityRecord, bool) {
	if acct, ok := s.legacyAccount(ctx); ok && acct.ID != "" {
		return models.IdentityRecord{
			ID:          acct.ID.String(),
			Email:       acct.Email,
			Name:        acct.DisplayName(),
			LastUpdated: s.now().UnixMilli(),
			SessionID:   s.newSessionID(),
		}, true
	}

	id, ok := s.get(ctx, s.tiers.Durable, models.TierDurable, legacyUserIDKey)
	if !ok || id == "" {
		return models.IdentityRecord{}, false
	}
	email, _ := s.get(ctx, s.tiers.Durable, models.TierDurable, legacyEmailKey)
	name, _ := s.get(ctx, s.tiers.Durable, models.TierDurable, legacyNameKey)
	if name == "" {
		name = models.Account{Email: email}.DisplayName()
	}
	// Some older clients stored the id JSON encoded.
	if unq, err := strconv.Unquote(id); err == nil {
		id = unq
	}
	return models.IdentityRecord{
		ID:          id,
		Email:       email,
		Name:        name,
		LastUpdated: s.now().UnixMilli(),
		SessionID:   s.newSessionID(),
	}, true
}
