package session

import "context"

// Resurrect varre as credenciais persistidas e recria um supervisor
// para cada sessão encontrada. Falhas individuais não interrompem a
// restauração das demais.
func (r *Registry) Resurrect(ctx context.Context) int {
	ids, err := r.store.SessionIDs(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to scan persisted sessions")
		return 0
	}
	if len(ids) == 0 {
		r.logger.Info().Msg("No persisted sessions to restore")
		return 0
	}

	started := 0
	for _, id := range ids {
		if _, err := r.Ensure(ctx, id); err != nil {
			r.logger.Error().Err(err).Str("session_id", id).Msg("Failed to restore session")
			continue
		}
		started++
	}
	r.logger.Info().Int("restored", started).Int("found", len(ids)).Msg("Persisted sessions restored")
	return started
}
