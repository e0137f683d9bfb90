package replay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/adred-codev/replayrelay/internal/mergeengine"
	"github.com/adred-codev/replayrelay/internal/metadatastore"
	"github.com/adred-codev/replayrelay/internal/vault"
)

// Saver implements spec §4.10: given a finished MergedReplay and match id,
// fetch metadata, write the sharded archive, and record the outcome.
// Failures here are logged by the caller and never abort the Replay's
// lifecycle (spec §7).
type Saver struct {
	vault  *vault.Vault
	store  *metadatastore.Store
	logger zerolog.Logger
}

// NewSaver builds a Saver writing to v and recording rows in store.
func NewSaver(v *vault.Vault, store *metadatastore.Store, logger zerolog.Logger) *Saver {
	return &Saver{vault: v, store: store, logger: logger}
}

// Save runs the four steps of spec §4.10. It returns an error purely for
// logging/testing purposes; the Replay lifecycle always proceeds to
// DRAINING_READERS regardless of the result.
func (s *Saver) Save(ctx context.Context, matchID uint32, name string, merged *mergeengine.MergedReplay) error {
	meta, err := s.store.LoadMatchMetadata(ctx, matchID)
	if err != nil {
		s.logger.Warn().Err(err).Uint32("match_id", matchID).Msg("failed to load match metadata before save")
	}

	resolvedName := name
	if meta.Found && meta.Name != "" {
		resolvedName = meta.Name
	}

	body := merged.Data().Bytes(0, merged.Data().Len())
	vaultMeta := vault.Metadata{
		MatchID:   matchID,
		Name:      resolvedName,
		BodyLen:   len(body),
		HasHeader: merged.Header() != nil,
	}

	outcome := metadatastore.SaveOK
	if _, writeErr := s.vault.Write(matchID, vaultMeta, body); writeErr != nil {
		s.logger.Error().Err(writeErr).Uint32("match_id", matchID).Msg("vault write failed")
		outcome = metadatastore.SaveVaultError
	}

	if recErr := s.store.RecordSave(ctx, matchID, outcome); recErr != nil {
		s.logger.Error().Err(recErr).Uint32("match_id", matchID).Msg("recording save outcome failed")
		return fmt.Errorf("saver: recording outcome for match %d: %w", matchID, recErr)
	}
	if outcome != metadatastore.SaveOK {
		return fmt.Errorf("saver: save outcome %s for match %d", outcome, matchID)
	}
	return nil
}
