// Package model defines the record types shared by every arena component:
// Agent, Challenge, Match, and the nested value types attached to a match
// (AgentResponse, JudgeEvaluation). Nothing in this package talks to a
// store, a gateway, or the network — it only names the shapes other
// packages operate on.
package model

import "time"

type Division string

const (
	DivisionNovice Division = "Novice"
	DivisionExpert Division = "Expert"
	DivisionMaster Division = "Master"
	DivisionKing   Division = "King"
)

type ChallengeType string

const (
	ChallengeLogicalReasoning     ChallengeType = "LogicalReasoning"
	ChallengeDebate               ChallengeType = "Debate"
	ChallengeCreativeProblemSolve ChallengeType = "CreativeProblemSolving"
	ChallengeMathematical         ChallengeType = "Mathematical"
	ChallengeAbstractThinking     ChallengeType = "AbstractThinking"
)

type Difficulty string

const (
	DifficultyBeginner     Difficulty = "Beginner"
	DifficultyIntermediate Difficulty = "Intermediate"
	DifficultyAdvanced     Difficulty = "Advanced"
	DifficultyExpert       Difficulty = "Expert"
	DifficultyMaster       Difficulty = "Master"
)

type ChallengeSource string

const (
	ChallengeSourceSeed      ChallengeSource = "seed"
	ChallengeSourceGenerated ChallengeSource = "generated"
	ChallengeSourceCommunity ChallengeSource = "community"
)

type MatchType string

const (
	MatchRegularDuel   MatchType = "RegularDuel"
	MatchDebate        MatchType = "Debate"
	MatchKingChallenge MatchType = "KingChallenge"
)

type MatchStatus string

const (
	MatchPending    MatchStatus = "Pending"
	MatchInProgress MatchStatus = "InProgress"
	MatchJudging    MatchStatus = "Judging"
	MatchFinalizing MatchStatus = "Finalizing"
	MatchCompleted  MatchStatus = "Completed"
	MatchCancelled  MatchStatus = "Cancelled"
	MatchFailed     MatchStatus = "Failed"
)

type MatchResult string

const (
	ResultWin  MatchResult = "Win"
	ResultLoss MatchResult = "Loss"
	ResultDraw MatchResult = "Draw"
)

type DivisionChangeKind string

const (
	DivisionChangePromotion DivisionChangeKind = "promotion"
	DivisionChangeDemotion  DivisionChangeKind = "demotion"
)

// Stats is the accumulation shape shared by globalStats and divisionStats.
type Stats struct {
	Matches       int `json:"matches"`
	Wins          int `json:"wins"`
	Losses        int `json:"losses"`
	Draws         int `json:"draws"`
	CurrentStreak int `json:"currentStreak"`
	BestStreak    int `json:"bestStreak"`
}

// WinRate returns wins/matches, or 0 when no matches have been played.
func (s Stats) WinRate() float64 {
	if s.Matches == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Matches)
}

// ApplyResult mutates the stats in place for one match outcome, per
// spec.md §4.7's streak/bestStreak rules.
func (s *Stats) ApplyResult(result MatchResult) {
	s.Matches++
	switch result {
	case ResultWin:
		s.Wins++
		if s.CurrentStreak >= 0 {
			s.CurrentStreak++
		} else {
			s.CurrentStreak = 1
		}
	case ResultLoss:
		s.Losses++
		if s.CurrentStreak <= 0 {
			s.CurrentStreak--
		} else {
			s.CurrentStreak = -1
		}
	case ResultDraw:
		s.Draws++
		s.CurrentStreak = 0
	}
	if abs(s.CurrentStreak) > s.BestStreak {
		s.BestStreak = abs(s.CurrentStreak)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

type EloEvent struct {
	Timestamp             time.Time   `json:"timestamp"`
	Rating                float64     `json:"rating"`
	MatchID               string      `json:"matchId"`
	OpponentID            string      `json:"opponentId"`
	OpponentRatingAtMatch float64     `json:"opponentRatingAtMatch"`
	Result                MatchResult `json:"result"`
	Delta                 float64     `json:"delta"`
}

type DivisionChange struct {
	From      Division           `json:"from"`
	To        Division           `json:"to"`
	Timestamp time.Time           `json:"timestamp"`
	Reason    string              `json:"reason"`
	Kind      DivisionChangeKind  `json:"kind"`
}

type JudgeStats struct {
	Accuracy    float64 `json:"accuracy"`
	Reliability float64 `json:"reliability"`
}

// Agent is a competitor and potential judge. Version is the optimistic
// concurrency token a Repository write must supply (spec.md §4.2).
type Agent struct {
	ID              string     `json:"id"`
	DisplayName     string     `json:"displayName"`
	Description     string     `json:"description"`
	Specializations []string   `json:"specializations"`
	Division        Division   `json:"division"`
	EloRating       float64    `json:"eloRating"`
	Active          bool       `json:"active"`
	LastMatchAt     time.Time  `json:"lastMatchAt"`

	GlobalStats   Stats `json:"globalStats"`
	DivisionStats Stats `json:"divisionStats"`
	JudgeStats    JudgeStats `json:"judgeStats"`

	EloHistory            []EloEvent       `json:"eloHistory"`
	DivisionChangeHistory []DivisionChange `json:"divisionChangeHistory"`

	CreatedAt time.Time `json:"createdAt"`
	Version   int       `json:"version"`
}

// NewAgent returns an Agent initialized per spec.md §3: rating 1000,
// Novice division, active, empty histories.
func NewAgent(id, displayName string) Agent {
	return Agent{
		ID:          id,
		DisplayName: displayName,
		Division:    DivisionNovice,
		EloRating:   1000,
		Active:      true,
		JudgeStats:  JudgeStats{Accuracy: 0, Reliability: 0.5},
		CreatedAt:   time.Now(),
	}
}

type Challenge struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Type         ChallengeType   `json:"type"`
	Difficulty   Difficulty      `json:"difficulty"`
	Answer       string          `json:"answer,omitempty"`
	Tags         []string        `json:"tags"`
	Source       ChallengeSource `json:"source"`
	QualityScore float64         `json:"qualityScore"`
	Uses         int             `json:"uses"`
	Probation    bool            `json:"probation"`
	Retired      bool            `json:"retired"`
	TitleHash    string          `json:"titleHash"`
	CreatedAt    time.Time       `json:"createdAt"`
	Version      int             `json:"version"`
}

type AgentResponse struct {
	AgentID        string    `json:"agentId"`
	Text           string    `json:"text"`
	ResponseTime   float64   `json:"responseTime"`
	Timestamp      time.Time `json:"timestamp"`
	Score          *float64  `json:"score,omitempty"`
	IsStreaming    bool      `json:"isStreaming"`
	StructuredData any       `json:"structuredData,omitempty"`
}

// RecommendedWinner is a tagged variant, never a bare string, per
// spec.md §9 "do not reuse a string for recommendedWinner in internal code".
type RecommendedWinner int

const (
	RecommendNone RecommendedWinner = iota
	RecommendAgent1
	RecommendAgent2
)

type CriterionScore struct {
	Criterion string  `json:"criterion"`
	Agent1    float64 `json:"agent1"`
	Agent2    float64 `json:"agent2"`
}

type JudgeEvaluation struct {
	JudgeID              string            `json:"judgeId"`
	Agent1TotalScore     float64           `json:"agent1TotalScore"`
	Agent2TotalScore     float64           `json:"agent2TotalScore"`
	RecommendedWinner    RecommendedWinner `json:"recommendedWinner"`
	OverallReasoning     string            `json:"overallReasoning"`
	ComparativeAnalysis  string            `json:"comparativeAnalysis,omitempty"`
	KeyDifferentiators   []string          `json:"keyDifferentiators,omitempty"`
	EvaluationQuality    float64           `json:"evaluationQuality"`
	CriterionScores      []CriterionScore  `json:"criterionScores,omitempty"`
}

// RecommendedWinnerWire renders the tagged variant as the external
// agentId|null string shape spec.md §6.2 pins down for SSE payloads.
func (e JudgeEvaluation) RecommendedWinnerWire(agent1ID, agent2ID string) *string {
	switch e.RecommendedWinner {
	case RecommendAgent1:
		return &agent1ID
	case RecommendAgent2:
		return &agent2ID
	default:
		return nil
	}
}

type Match struct {
	ID          string      `json:"id"`
	Agent1ID    string      `json:"agent1Id"`
	Agent2ID    string      `json:"agent2Id"`
	ChallengeID string      `json:"challengeId"`
	Division    Division    `json:"division"`
	Type        MatchType   `json:"type"`
	Status      MatchStatus `json:"status"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Agent1Response *AgentResponse  `json:"agent1Response,omitempty"`
	Agent2Response *AgentResponse  `json:"agent2Response,omitempty"`
	Transcript     []AgentResponse `json:"transcript,omitempty"`

	Evaluations []JudgeEvaluation `json:"evaluations"`

	WinnerID    *string            `json:"winnerId"`
	FinalScores map[string]float64 `json:"finalScores,omitempty"`
	Result      MatchResult        `json:"result,omitempty"`

	FailureReason string `json:"failureReason,omitempty"`

	Version int `json:"version"`
}

// IsTerminal reports whether the match has reached a status that
// MatchRunner will never mutate again (spec.md §3 Match Lifecycle).
func (m Match) IsTerminal() bool {
	switch m.Status {
	case MatchCompleted, MatchCancelled, MatchFailed:
		return true
	default:
		return false
	}
}

// DifficultyBand returns the two difficulties eligible for a division,
// per spec.md §4.3's Novice↔Beginner/Intermediate mapping.
func DifficultyBand(d Division) [2]Difficulty {
	switch d {
	case DivisionNovice:
		return [2]Difficulty{DifficultyBeginner, DifficultyIntermediate}
	case DivisionExpert:
		return [2]Difficulty{DifficultyIntermediate, DifficultyAdvanced}
	case DivisionMaster:
		return [2]Difficulty{DifficultyAdvanced, DifficultyExpert}
	case DivisionKing:
		return [2]Difficulty{DifficultyExpert, DifficultyMaster}
	default:
		return [2]Difficulty{DifficultyBeginner, DifficultyIntermediate}
	}
}

// KFactor returns the ELO K-factor for a division, per spec.md §4.7.
func KFactor(d Division) float64 {
	switch d {
	case DivisionNovice:
		return 32
	case DivisionExpert:
		return 24
	case DivisionMaster:
		return 16
	case DivisionKing:
		return 12
	default:
		return 32
	}
}
