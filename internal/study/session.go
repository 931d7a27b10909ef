package study

import (
	"fmt"
	"time"
)

// Session is the durable record of one participant's pass through the study.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Role            Role           `json:"role"`
	SocialStyle     string         `json:"social_style,omitempty"`
	Persona         string         `json:"persona,omitempty"`
	Domain          string         `json:"domain,omitempty"`
	Condition       string         `json:"condition,omitempty"`
	ProfileSurvey   map[string]any `json:"profile_survey,omitempty"`
	ConsentAccepted bool           `json:"consent_accepted"`

	MatchStatus          MatchStatus `json:"match_status"`
	MatchedSessionID     string      `json:"matched_session_id,omitempty"`
	PreviousPartnerID    string      `json:"previous_partner_id,omitempty"`
	FirstMessageSender   Role        `json:"first_message_sender,omitempty"`
	WaitingRoomEnteredAt *time.Time  `json:"waiting_room_entered_at,omitempty"`
	MatchedAt            *time.Time  `json:"matched_at,omitempty"`
	ProceedToChatAt      *time.Time  `json:"proceed_to_chat_at,omitempty"`

	Status                SessionStatus `json:"session_status"`
	StartedAt             time.Time     `json:"started_at"`
	ConversationStartedAt *time.Time    `json:"conversation_started_at,omitempty"`
	LastUpdated           time.Time     `json:"last_updated"`
	RecoveredFromRestart  bool          `json:"recovered_from_restart"`
	RequeueCount          int           `json:"requeue_count"`
	CounterDecremented    bool          `json:"counter_decremented"`
	TimeoutScreen         string        `json:"timeout_screen,omitempty"`

	Conversation []Turn    `json:"conversation"`
	Ratings      []Rating  `json:"ratings"`
	Comments     []Comment `json:"comments"`
	UIEvents     []UIEvent `json:"ui_events"`
	Outcome      Outcome   `json:"outcome"`
}

type Turn struct {
	Turn          int        `json:"turn"`
	UserText      string     `json:"user"`
	AssistantText string     `json:"assistant"`
	SenderRole    Role       `json:"sender_role,omitempty"`
	SentAt        time.Time  `json:"timestamp"`
	DeliverAt     *time.Time `json:"delivery_time,omitempty"`
	Timing        TurnTiming `json:"timing"`
}

type TurnTiming struct {
	WordCount              int      `json:"message_word_count,omitempty"`
	ArtificialDelaySeconds float64  `json:"artificial_delay_seconds,omitempty"`
	DelayMedianSeconds     float64  `json:"delay_category_median,omitempty"`
	DelayStdSeconds        float64  `json:"delay_category_std,omitempty"`
	CompositionSeconds     float64  `json:"message_composition_time_seconds,omitempty"`
	TypingIndicatorSeconds float64  `json:"typing_indicator_delay_seconds,omitempty"`
	APICallSeconds         float64  `json:"api_call_time_seconds,omitempty"`
	SleepSeconds           float64  `json:"sleep_duration_seconds,omitempty"`
	RetryAttempts          int      `json:"retry_attempts,omitempty"`
	RetrySeconds           float64  `json:"retry_time_seconds,omitempty"`
	Provider               string   `json:"provider,omitempty"`
	UsedFallback           bool     `json:"used_fallback,omitempty"`
	UsedPlaceholder        bool     `json:"used_placeholder,omitempty"`
	NetworkDelaySeconds    *float64 `json:"network_delay_seconds,omitempty"`
}

type Rating struct {
	Turn                  int       `json:"turn"`
	BinaryChoice          string    `json:"binary_choice"`
	Confidence            float64   `json:"confidence"`
	DecisionSeconds       float64   `json:"decision_time_seconds"`
	ReadingSeconds        float64   `json:"reading_time_seconds,omitempty"`
	ActiveDecisionSeconds float64   `json:"active_decision_time_seconds,omitempty"`
	SubmittedAt           time.Time `json:"submitted_at"`
}

type Comment struct {
	Turn        int       `json:"turn"`
	Phase       string    `json:"phase"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type UIEvent struct {
	ID       string         `json:"id"`
	Event    string         `json:"event"`
	ClientTS string         `json:"ts_client,omitempty"`
	ServerTS time.Time      `json:"ts_server"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Outcome holds the terminal judgment fields.
type Outcome struct {
	PureDecision         *float64   `json:"pure_decision,omitempty"`
	PureDecisionTurn     int        `json:"pure_decision_turn,omitempty"`
	PureDecisionAt       *time.Time `json:"pure_decision_at,omitempty"`
	FinalChoice          string     `json:"final_binary_choice,omitempty"`
	FinalConfidence      float64    `json:"final_confidence,omitempty"`
	AIDetected           *bool      `json:"ai_detected,omitempty"`
	FinalDecisionSeconds float64    `json:"final_decision_time_seconds,omitempty"`
	TotalStudyMinutes    float64    `json:"total_study_minutes,omitempty"`
	ForcedCompletion     bool       `json:"forced_completion"`
	FinalComment         string     `json:"final_comment,omitempty"`
	HasExcessiveDelays   bool       `json:"has_excessive_delays"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// NewSession returns a minimal pre-consent record.
func NewSession(id, userID string, now time.Time) *Session {
	if userID == "" {
		userID = id
	}
	return &Session{
		ID:           id,
		UserID:       userID,
		Role:         RoleUnassigned,
		MatchStatus:  MatchPreConsent,
		Status:       StatusPreConsent,
		StartedAt:    now,
		LastUpdated:  now,
		Conversation: []Turn{},
		Ratings:      []Rating{},
		Comments:     []Comment{},
		UIEvents:     []UIEvent{},
	}
}

// Clone returns a copy that shares no slices with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Conversation = append([]Turn(nil), s.Conversation...)
	out.Ratings = append([]Rating(nil), s.Ratings...)
	out.Comments = append([]Comment(nil), s.Comments...)
	out.UIEvents = append([]UIEvent(nil), s.UIEvents...)
	if s.ProfileSurvey != nil {
		out.ProfileSurvey = make(map[string]any, len(s.ProfileSurvey))
		for k, v := range s.ProfileSurvey {
			out.ProfileSurvey[k] = v
		}
	}
	return &out
}

// TurnCount is derived from the stored conversation, never tracked separately.
func (s *Session) TurnCount() int {
	return len(s.Conversation)
}

func (s *Session) LastTurn() *Turn {
	if len(s.Conversation) == 0 {
		return nil
	}
	return &s.Conversation[len(s.Conversation)-1]
}

// UpsertTurn overwrites the entry with the same turn number or appends a
// newer one. Turn numbers stay strictly increasing.
func (s *Session) UpsertTurn(t Turn) (replaced bool, err error) {
	if t.Turn < 1 {
		return false, fmt.Errorf("%w: turn %d", ErrInvalidTurn, t.Turn)
	}
	for i := range s.Conversation {
		if s.Conversation[i].Turn == t.Turn {
			s.Conversation[i] = t
			return true, nil
		}
	}
	if last := s.LastTurn(); last != nil && t.Turn < last.Turn {
		return false, fmt.Errorf("%w: turn %d precedes %d", ErrInvalidTurn, t.Turn, last.Turn)
	}
	s.Conversation = append(s.Conversation, t)
	return false, nil
}

func (s *Session) SetRole(r Role) error {
	if s.Role.Assigned() && s.Role != r {
		return fmt.Errorf("%w: %s -> %s", ErrRoleImmutable, s.Role, r)
	}
	s.Role = r
	return nil
}

func (s *Session) TransitionMatch(to MatchStatus) error {
	if s.MatchStatus == to {
		return nil
	}
	if !s.MatchStatus.CanTransition(to) {
		return fmt.Errorf("%w: match_status %s -> %s", ErrIllegalTransition, s.MatchStatus, to)
	}
	s.MatchStatus = to
	return nil
}

func (s *Session) TransitionStatus(to SessionStatus) error {
	if s.Status == to {
		return nil
	}
	if !s.Status.CanTransition(to) {
		return fmt.Errorf("%w: session_status %s -> %s", ErrIllegalTransition, s.Status, to)
	}
	s.Status = to
	return nil
}

// ReleaseCounter marks the role slot as returned. The repository applies the
// matching counter decrement in the same transaction that persists the flag.
func (s *Session) ReleaseCounter() bool {
	if !s.Role.Assigned() || s.CounterDecremented {
		return false
	}
	s.CounterDecremented = true
	return true
}

// clearMatch dissolves the pairing and remembers the partner so the same
// two sessions are not paired again.
func (s *Session) clearMatch() {
	if s.MatchedSessionID != "" {
		s.PreviousPartnerID = s.MatchedSessionID
	}
	s.MatchedSessionID = ""
	s.FirstMessageSender = ""
	s.MatchedAt = nil
	s.ProceedToChatAt = nil
}

// Validate checks the enum fields of a reconstructed record.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidState)
	}
	if _, err := ParseRole(string(s.Role)); err != nil {
		return err
	}
	if _, err := ParseMatchStatus(string(s.MatchStatus)); err != nil {
		return err
	}
	if _, err := ParseSessionStatus(string(s.Status)); err != nil {
		return err
	}
	return nil
}

// ChatAllowed reports whether the synchronized reading interval has passed.
// Sessions without a pairing are never gated.
func (s *Session) ChatAllowed(now time.Time) bool {
	if s.ProceedToChatAt == nil {
		return true
	}
	return !now.Before(*s.ProceedToChatAt)
}

// TurnByNumber returns the stored entry for turn n.
func (s *Session) TurnByNumber(n int) (*Turn, bool) {
	for i := range s.Conversation {
		if s.Conversation[i].Turn == n {
			return &s.Conversation[i], true
		}
	}
	return nil, false
}
