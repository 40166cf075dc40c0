package protocol

// GameState is the initial authoritative snapshot seeded into every new
// session. The relay only ever constructs this document once, at session
// creation; from then on the snapshot is replaced wholesale by host syncState
// events and treated as opaque JSON. The fields cover the quiz flow the host
// client drives: general round/question/timer bookkeeping, the connecting
// wall round, and the missing vowels round.
type GameState struct {
	Score                   int    `json:"score"`
	View                    string `json:"view"`
	CurrentRound            any    `json:"currentRound"`
	CurrentQuestion         any    `json:"currentQuestion"`
	CluesRevealed           int    `json:"cluesRevealed"`
	AnswerRevealed          bool   `json:"answerRevealed"`
	CompletedQuestions      []any  `json:"completedQuestions"`
	TimerStartTime          any    `json:"timerStartTime"`
	TimerStopped            bool   `json:"timerStopped"`
	TimerElapsedWhenStopped int    `json:"timerElapsedWhenStopped"`

	// Connecting wall round.
	WallTiles           []any  `json:"wallTiles"`
	SelectedTiles       []any  `json:"selectedTiles"`
	SolvedGroups        []any  `json:"solvedGroups"`
	WallLives           int    `json:"wallLives"`
	WallPhase           string `json:"wallPhase"`
	ConnectionGuesses   []any  `json:"connectionGuesses"`
	WallTimerReady      bool   `json:"wallTimerReady"`
	ShowTimeUpModal     bool   `json:"showTimeUpModal"`
	ShowWallFrozenModal bool   `json:"showWallFrozenModal"`

	// Missing vowels round.
	VowelsCurrentCategory   int  `json:"vowelsCurrentCategory"`
	VowelsCurrentClue       int  `json:"vowelsCurrentClue"`
	VowelsCategoryRevealed  bool `json:"vowelsCategoryRevealed"`
	VowelsCategoryAnimating bool `json:"vowelsCategoryAnimating"`
	VowelsClueRevealed      bool `json:"vowelsClueRevealed"`
	VowelsAnswerRevealed    bool `json:"vowelsAnswerRevealed"`
	VowelsShowTimeUpModal   bool `json:"vowelsShowTimeUpModal"`
}

// DefaultGameState returns the fixed document a fresh session starts with:
// the "rounds" selection view, no active round or question, three wall lives,
// and the wall in its solving phase. Array fields are initialised empty so
// they encode as [] rather than null.
func DefaultGameState() GameState {
	return GameState{
		Score:              0,
		View:               "rounds",
		CompletedQuestions: []any{},

		WallTiles:         []any{},
		SelectedTiles:     []any{},
		SolvedGroups:      []any{},
		WallLives:         3,
		WallPhase:         "solving",
		ConnectionGuesses: []any{},
	}
}
