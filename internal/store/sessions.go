package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"turing-study/internal/ids"
	"turing-study/internal/study"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const sessionColumns = `id, user_id, role, social_style, persona, domain, condition, profile_survey,
	consent_accepted, match_status, matched_session_id, first_message_sender,
	waiting_room_entered_at, matched_at, proceed_to_chat_at, session_status, started_at,
	conversation_started_at, last_updated, recovered_from_restart, requeue_count,
	counter_decremented, timeout_screen, conversation, ratings, comments, ui_events, outcome,
	previous_partner_id`

func scanSession(row pgx.Row) (*study.Session, error) {
	var (
		s                                               study.Session
		role, matchStatus, status                       string
		socialStyle, persona, domain, condition         pgtype.Text
		matchedID, firstSender, timeoutScreen           pgtype.Text
		previousPartner                                 pgtype.Text
		waitingAt, matchedAt, proceedAt, conversationAt pgtype.Timestamptz
		survey, conversation, ratings, comments         []byte
		uiEvents, outcome                               []byte
		requeueCount                                    int32
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &role, &socialStyle, &persona, &domain, &condition, &survey,
		&s.ConsentAccepted, &matchStatus, &matchedID, &firstSender,
		&waitingAt, &matchedAt, &proceedAt, &status, &s.StartedAt,
		&conversationAt, &s.LastUpdated, &s.RecoveredFromRestart, &requeueCount,
		&s.CounterDecremented, &timeoutScreen, &conversation, &ratings, &comments, &uiEvents, &outcome,
		&previousPartner,
	); err != nil {
		return nil, mapNotFound(err)
	}
	s.Role = study.Role(role)
	s.MatchStatus = study.MatchStatus(matchStatus)
	s.Status = study.SessionStatus(status)
	s.SocialStyle = textVal(socialStyle)
	s.Persona = textVal(persona)
	s.Domain = textVal(domain)
	s.Condition = textVal(condition)
	s.MatchedSessionID = textVal(matchedID)
	s.PreviousPartnerID = textVal(previousPartner)
	s.FirstMessageSender = study.Role(textVal(firstSender))
	s.TimeoutScreen = textVal(timeoutScreen)
	s.WaitingRoomEnteredAt = timePtrVal(waitingAt)
	s.MatchedAt = timePtrVal(matchedAt)
	s.ProceedToChatAt = timePtrVal(proceedAt)
	s.ConversationStartedAt = timePtrVal(conversationAt)
	s.RequeueCount = int(requeueCount)
	s.Conversation = []study.Turn{}
	s.Ratings = []study.Rating{}
	s.Comments = []study.Comment{}
	s.UIEvents = []study.UIEvent{}
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{survey, &s.ProfileSurvey},
		{conversation, &s.Conversation},
		{ratings, &s.Ratings},
		{comments, &s.Comments},
		{uiEvents, &s.UIEvents},
		{outcome, &s.Outcome},
	} {
		if err := jsonVal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("session %s: %w", s.ID, err)
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSessions(rows pgx.Rows) ([]study.Session, error) {
	defer rows.Close()
	out := []study.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func upsertSession(ctx context.Context, q querier, s *study.Session) error {
	survey, err := jsonParam(s.ProfileSurvey)
	if err != nil {
		return err
	}
	conversation, err := jsonParam(s.Conversation)
	if err != nil {
		return err
	}
	ratings, err := jsonParam(s.Ratings)
	if err != nil {
		return err
	}
	comments, err := jsonParam(s.Comments)
	if err != nil {
		return err
	}
	uiEvents, err := jsonParam(s.UIEvents)
	if err != nil {
		return err
	}
	outcome, err := jsonParam(s.Outcome)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO study_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			role = EXCLUDED.role,
			social_style = EXCLUDED.social_style,
			persona = EXCLUDED.persona,
			domain = EXCLUDED.domain,
			condition = EXCLUDED.condition,
			profile_survey = EXCLUDED.profile_survey,
			consent_accepted = EXCLUDED.consent_accepted,
			match_status = EXCLUDED.match_status,
			matched_session_id = EXCLUDED.matched_session_id,
			first_message_sender = EXCLUDED.first_message_sender,
			waiting_room_entered_at = EXCLUDED.waiting_room_entered_at,
			matched_at = EXCLUDED.matched_at,
			proceed_to_chat_at = EXCLUDED.proceed_to_chat_at,
			session_status = EXCLUDED.session_status,
			started_at = EXCLUDED.started_at,
			conversation_started_at = EXCLUDED.conversation_started_at,
			last_updated = EXCLUDED.last_updated,
			recovered_from_restart = EXCLUDED.recovered_from_restart,
			requeue_count = EXCLUDED.requeue_count,
			counter_decremented = EXCLUDED.counter_decremented,
			timeout_screen = EXCLUDED.timeout_screen,
			conversation = EXCLUDED.conversation,
			ratings = EXCLUDED.ratings,
			comments = EXCLUDED.comments,
			ui_events = EXCLUDED.ui_events,
			outcome = EXCLUDED.outcome,
			previous_partner_id = EXCLUDED.previous_partner_id`,
		s.ID, s.UserID, string(s.Role), textParam(s.SocialStyle), textParam(s.Persona),
		textParam(s.Domain), textParam(s.Condition), survey,
		s.ConsentAccepted, string(s.MatchStatus), textParam(s.MatchedSessionID), textParam(string(s.FirstMessageSender)),
		timeParam(s.WaitingRoomEnteredAt), timeParam(s.MatchedAt), timeParam(s.ProceedToChatAt),
		string(s.Status), s.StartedAt, timeParam(s.ConversationStartedAt), s.LastUpdated,
		s.RecoveredFromRestart, int32(s.RequeueCount), s.CounterDecremented, textParam(s.TimeoutScreen),
		conversation, ratings, comments, uiEvents, outcome, textParam(s.PreviousPartnerID),
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*study.Session, error) {
	return scanSession(s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM study_sessions WHERE id = $1`, id))
}

func lockSession(ctx context.Context, tx pgx.Tx, id string) (*study.Session, error) {
	return scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM study_sessions WHERE id = $1 FOR UPDATE`, id))
}

// lockCounter must run after any session row locks taken in the same tx.
func lockCounter(ctx context.Context, tx pgx.Tx) (study.RoleCounter, error) {
	if _, err := tx.Exec(ctx, `INSERT INTO role_counter (id) VALUES (1) ON CONFLICT (id) DO NOTHING`); err != nil {
		return study.RoleCounter{}, err
	}
	var i, w int32
	if err := tx.QueryRow(ctx, `SELECT interrogator_count, witness_count FROM role_counter WHERE id = 1 FOR UPDATE`).Scan(&i, &w); err != nil {
		return study.RoleCounter{}, err
	}
	return study.RoleCounter{Interrogators: int(i), Witnesses: int(w)}, nil
}

func writeCounter(ctx context.Context, tx pgx.Tx, c study.RoleCounter) error {
	_, err := tx.Exec(ctx, `UPDATE role_counter SET interrogator_count = $1, witness_count = $2, updated_at = now() WHERE id = 1`,
		int32(c.Interrogators), int32(c.Witnesses))
	return err
}

// releaseSlot flips counter_decremented and gives the role slot back. The
// conditional update makes the decrement happen at most once per record.
func releaseSlot(ctx context.Context, tx pgx.Tx, id string, role study.Role) error {
	tag, err := tx.Exec(ctx, `UPDATE study_sessions SET counter_decremented = TRUE WHERE id = $1 AND counter_decremented = FALSE`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	c, err := lockCounter(ctx, tx)
	if err != nil {
		return err
	}
	return writeCounter(ctx, tx, c.Release(role))
}

func (s *Store) AssignRole(ctx context.Context, p study.AssignRoleParams) (*study.Session, bool, error) {
	if p.SessionID == "" || p.Pick == nil {
		return nil, false, study.ErrInvalidRequest
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	placeholder := study.NewSession(p.SessionID, p.UserID, p.Now)
	placeholder.CounterDecremented = true
	if _, err := tx.Exec(ctx, `INSERT INTO study_sessions (id, user_id, role, match_status, session_status, started_at, last_updated, counter_decremented)
		VALUES ($1, $2, $3, $4, $5, $6, $6, TRUE) ON CONFLICT (id) DO NOTHING`,
		placeholder.ID, placeholder.UserID, string(placeholder.Role), string(placeholder.MatchStatus),
		string(placeholder.Status), p.Now); err != nil {
		return nil, false, err
	}
	existing, err := lockSession(ctx, tx, p.SessionID)
	if err != nil {
		return nil, false, err
	}
	if existing.Role.Assigned() && existing.Status.InProgress() {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}

	counter, err := lockCounter(ctx, tx)
	if err != nil {
		return nil, false, err
	}
	if existing.Role.Assigned() && !existing.CounterDecremented {
		counter = counter.Release(existing.Role)
	}
	role := p.Pick(counter)
	if !role.Assigned() {
		return nil, false, fmt.Errorf("%w: picked %q", study.ErrInvalidState, role)
	}
	sess := study.NewSession(p.SessionID, p.UserID, p.Now)
	sess.Role = role
	if p.Counted {
		switch role {
		case study.RoleInterrogator:
			counter.Interrogators++
		case study.RoleWitness:
			counter.Witnesses++
		}
	} else {
		sess.CounterDecremented = true
	}
	if p.Prepare != nil {
		p.Prepare(sess)
	}
	if err := writeCounter(ctx, tx, counter); err != nil {
		return nil, false, err
	}
	if err := upsertSession(ctx, tx, sess); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

func commitSession(ctx context.Context, tx pgx.Tx, prev, next *study.Session) error {
	if next.CounterDecremented && !prev.CounterDecremented {
		if err := releaseSlot(ctx, tx, next.ID, next.Role); err != nil {
			return err
		}
	}
	return upsertSession(ctx, tx, next)
}

func (s *Store) UpdateSession(ctx context.Context, id string, fn func(*study.Session) error) (*study.Session, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	cur, err := lockSession(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := commitSession(ctx, tx, cur, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return next, nil
}

// UpdatePair locks both rows in id order so concurrent pair updates cannot
// deadlock against each other.
func (s *Store) UpdatePair(ctx context.Context, aID, bID string, fn func(a, b *study.Session) error) (*study.Session, *study.Session, error) {
	if aID == bID {
		return nil, nil, fmt.Errorf("%w: pair with itself", study.ErrInvalidRequest)
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	ids := []string{aID, bID}
	sort.Strings(ids)
	rows, err := tx.Query(ctx, `SELECT `+sessionColumns+` FROM study_sessions WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, nil, err
	}
	locked, err := collectSessions(rows)
	if err != nil {
		return nil, nil, err
	}
	if len(locked) != 2 {
		return nil, nil, study.ErrSessionNotFound
	}
	var curA, curB *study.Session
	for i := range locked {
		if locked[i].ID == aID {
			curA = &locked[i]
		} else {
			curB = &locked[i]
		}
	}
	nextA, nextB := curA.Clone(), curB.Clone()
	if err := fn(nextA, nextB); err != nil {
		return nil, nil, err
	}
	if err := commitSession(ctx, tx, curA, nextA); err != nil {
		return nil, nil, err
	}
	if err := commitSession(ctx, tx, curB, nextB); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return nextA, nextB, nil
}

func (s *Store) OldestWaiting(ctx context.Context, role study.Role) (*study.Session, error) {
	sess, err := scanSession(s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM study_sessions
		WHERE role = $1 AND match_status = $2 AND session_status <> $3
		ORDER BY waiting_room_entered_at ASC NULLS LAST, id
		LIMIT 1`, string(role), string(study.MatchWaiting), string(study.StatusAbandoned)))
	if errors.Is(err, study.ErrSessionNotFound) {
		return nil, nil
	}
	return sess, err
}

func (s *Store) ListSessions(ctx context.Context, f study.SessionFilter) ([]study.Session, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.MatchStatuses) > 0 {
		where = append(where, "match_status = ANY("+arg(matchStrings(f.MatchStatuses))+")")
	}
	if len(f.Statuses) > 0 {
		where = append(where, "session_status = ANY("+arg(statusStrings(f.Statuses))+")")
	}
	if len(f.ExcludeStatuses) > 0 {
		where = append(where, "NOT (session_status = ANY("+arg(statusStrings(f.ExcludeStatuses))+"))")
	}
	if f.MatchedBefore != nil {
		where = append(where, "matched_at < "+arg(*f.MatchedBefore))
	}
	if f.WaitingBefore != nil {
		where = append(where, "waiting_room_entered_at < "+arg(*f.WaitingBefore))
	}
	if f.UpdatedBefore != nil {
		where = append(where, "last_updated < "+arg(*f.UpdatedBefore))
	}
	if f.CounterHeld {
		where = append(where, "role IN ('interrogator', 'witness') AND counter_decremented = FALSE")
	}
	q := `SELECT ` + sessionColumns + ` FROM study_sessions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at, id"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func matchStrings(in []study.MatchStatus) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func statusStrings(in []study.SessionStatus) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func (s *Store) RoleCounter(ctx context.Context) (study.RoleCounter, error) {
	var i, w int32
	err := s.Pool.QueryRow(ctx, `SELECT interrogator_count, witness_count FROM role_counter WHERE id = 1`).Scan(&i, &w)
	if errors.Is(err, pgx.ErrNoRows) {
		return study.RoleCounter{}, nil
	}
	if err != nil {
		return study.RoleCounter{}, err
	}
	return study.RoleCounter{Interrogators: int(i), Witnesses: int(w)}, nil
}

func (s *Store) RecordDropout(ctx context.Context, d study.DroppedParticipant) error {
	if d.ID == "" {
		d.ID = ids.New()
	}
	events := d.UIEvents
	if events == nil {
		events = []study.UIEvent{}
	}
	raw, err := jsonParam(events)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `INSERT INTO dropped_participants (id, participant_id, external_id, reason, ui_events, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.ParticipantID, textParam(d.ExternalID), d.Reason, raw, d.CreatedAt)
	return err
}

func (s *Store) Dropouts(ctx context.Context, participantID string) ([]study.DroppedParticipant, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, participant_id, external_id, reason, ui_events, created_at
		FROM dropped_participants WHERE participant_id = $1 ORDER BY created_at, id`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []study.DroppedParticipant{}
	for rows.Next() {
		var (
			d        study.DroppedParticipant
			external pgtype.Text
			raw      []byte
		)
		if err := rows.Scan(&d.ID, &d.ParticipantID, &external, &d.Reason, &raw, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.ExternalID = textVal(external)
		if err := jsonVal(raw, &d.UIEvents); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
