package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"diet-coach/internal/coach"
	"diet-coach/internal/logging"
	"diet-coach/internal/mealplan"

	"go.uber.org/zap"
)

// Mode is the input tab of an open flow.
type Mode string

const (
	ModeAIScan Mode = "ai-scan"
	ModeVoice  Mode = "voice"
	ModeSearch Mode = "search"
)

// ParseMode validates a mode name coming from a surface.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAIScan, ModeVoice, ModeSearch:
		return m, nil
	}
	return "", fmt.Errorf("unknown swap mode %q", s)
}

// State is the lifecycle position of the flow.
type State string

const (
	StateClosed      State = "closed"
	StateOpen        State = "open"
	StateSubmitting  State = "submitting"
	StateResultShown State = "result-shown"
	StateError       State = "error"
)

var (
	ErrFlowOpen         = errors.New("a swap is already in progress")
	ErrFlowClosed       = errors.New("no swap in progress")
	ErrSubmitting       = errors.New("swap request already submitted")
	ErrWrongMode        = errors.New("action not available in this mode")
	ErrVoiceUnsupported = errors.New("voice input is not available, type the meal instead")
	ErrStale            = errors.New("swap closed before the response arrived")
)

const (
	DefaultDebounce    = 500 * time.Millisecond
	DefaultResultDelay = 1500 * time.Millisecond
)

// Target identifies the planned meal being replaced.
type Target struct {
	MealID           int64
	PlannedMealID    *int64
	Day              int // 1-based plan day
	MealType         mealplan.MealType
	PreviousName     string
	PreviousCalories int
}

// plannedID is the id the backend expects for override check-ins.
func (t Target) plannedID() int64 {
	if t.PlannedMealID != nil {
		return *t.PlannedMealID
	}
	return t.MealID
}

// Result is the food that replaced the target.
type Result struct {
	FoodName         string         `json:"foodName"`
	Calories         int            `json:"calories"`
	NutritionDetails map[string]any `json:"nutritionDetails,omitempty"`
}

// Analyzer is the slice of the backend the flow needs.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, in coach.ImageAnalysisRequest) (*coach.Analysis, error)
	AnalyzeText(ctx context.Context, in coach.TextAnalysisRequest) (*coach.Analysis, error)
	SearchDishes(ctx context.Context, q coach.DishQuery) (*coach.DishPage, error)
	CheckInWithOverride(ctx context.Context, o coach.CheckInOverride) error
}

// Applier receives a confirmed swap. It must not call back into the flow.
type Applier interface {
	ApplySwap(day int, mealID int64, name string, calories int)
}

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, mimeType string, audio []byte) (string, error)
}

// Status is a snapshot of the flow for rendering.
type Status struct {
	State          State        `json:"state"`
	Mode           Mode         `json:"mode,omitempty"`
	Target         *Target      `json:"target,omitempty"`
	Draft          string       `json:"draft,omitempty"`
	Error          string       `json:"error,omitempty"`
	Result         *Result      `json:"result,omitempty"`
	Keyword        string       `json:"keyword,omitempty"`
	Dishes         []coach.Dish `json:"dishes,omitempty"`
	Page           int          `json:"page"` // last loaded result page, 0-based
	HasMore        bool         `json:"hasMore"`
	VoiceSupported bool         `json:"voiceSupported"`
}

// Options tunes a Flow. Zero values select the defaults.
type Options struct {
	Transcriber Transcriber
	Debounce    time.Duration
	ResultDelay time.Duration
	Logger      *zap.Logger
	// OnChange is called, outside the flow's lock, when the flow changes on its own
	// (debounced search results, auto-close after a result).
	OnChange func(Status)
}

// Flow is the modal swap state machine for one user:
// closed -> open -> submitting -> result-shown -> closed, with submitting -> error -> submitting for retries.
type Flow struct {
	analyzer    Analyzer
	applier     Applier
	transcriber Transcriber
	debounce    time.Duration
	resultDelay time.Duration
	logger      *zap.Logger
	onChange    func(Status)

	mu          sync.Mutex
	state       State
	mode        Mode
	target      Target
	draft       string
	errMsg      string
	result      *Result
	keyword     string
	dishes      []coach.Dish
	hasMore     bool
	page        int
	gen         uint64
	searchSeq   uint64
	searchTimer *time.Timer
	closeTimer  *time.Timer
}

// NewFlow creates a closed flow.
func NewFlow(analyzer Analyzer, applier Applier, opts Options) *Flow {
	f := &Flow{
		analyzer:    analyzer,
		applier:     applier,
		transcriber: opts.Transcriber,
		debounce:    opts.Debounce,
		resultDelay: opts.ResultDelay,
		logger:      logging.OrNop(opts.Logger),
		onChange:    opts.OnChange,
		state:       StateClosed,
	}
	if f.debounce <= 0 {
		f.debounce = DefaultDebounce
	}
	if f.resultDelay <= 0 {
		f.resultDelay = DefaultResultDelay
	}
	return f
}

// VoiceSupported reports whether SubmitVoice can work.
func (f *Flow) VoiceSupported() bool {
	return f.transcriber != nil
}

// Open starts a swap for t in ai-scan mode.
func (f *Flow) Open(t Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateClosed {
		return ErrFlowOpen
	}
	f.resetLocked()
	f.state = StateOpen
	f.mode = ModeAIScan
	f.target = t
	return nil
}

// SelectMode switches the input tab. Any error message is cleared.
func (f *Flow) SelectMode(m Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateClosed:
		return ErrFlowClosed
	case StateSubmitting:
		return ErrSubmitting
	case StateResultShown:
		return ErrFlowOpen
	}
	if f.mode != m {
		f.stopSearchLocked()
		f.keyword, f.dishes, f.hasMore, f.page = "", nil, false, 0
	}
	f.mode = m
	f.state = StateOpen
	f.errMsg = ""
	return nil
}

// SubmitImage analyzes a photo of the eaten meal.
func (f *Flow) SubmitImage(ctx context.Context, filename string, image []byte) error {
	return f.submit(ctx, []Mode{ModeAIScan}, "", func(ctx context.Context, t Target) (*Result, error) {
		a, err := f.analyzer.AnalyzeImage(ctx, coach.ImageAnalysisRequest{
			Filename:      filename,
			Image:         image,
			PlannedMealID: t.PlannedMealID,
			Category:      t.MealType,
		})
		if err != nil {
			return nil, err
		}
		return resultOf(a), nil
	})
}

// SubmitText analyzes a typed description. The text is kept as the draft so a
// failed attempt can be retried.
func (f *Flow) SubmitText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: describe what you ate", coach.ErrInvalidPayload)
	}
	return f.submit(ctx, []Mode{ModeAIScan, ModeVoice}, text, func(ctx context.Context, t Target) (*Result, error) {
		return f.analyzeText(ctx, t, text)
	})
}

// SubmitVoice transcribes audio and analyzes the transcript.
func (f *Flow) SubmitVoice(ctx context.Context, mimeType string, audio []byte) error {
	if f.transcriber == nil {
		return ErrVoiceUnsupported
	}
	return f.submit(ctx, []Mode{ModeVoice}, "", func(ctx context.Context, t Target) (*Result, error) {
		text, err := f.transcriber.Transcribe(ctx, mimeType, audio)
		if err != nil {
			return nil, fmt.Errorf("transcription failed: %w", err)
		}
		f.mu.Lock()
		f.draft = text
		f.mu.Unlock()
		return f.analyzeText(ctx, t, text)
	})
}

func (f *Flow) analyzeText(ctx context.Context, t Target, text string) (*Result, error) {
	a, err := f.analyzer.AnalyzeText(ctx, coach.TextAnalysisRequest{
		Text:          text,
		PlannedMealID: t.PlannedMealID,
		Category:      t.MealType,
	})
	if err != nil {
		return nil, err
	}
	return resultOf(a), nil
}

// SelectDish swaps the target for a catalog dish, checking it in with the dish's data.
func (f *Flow) SelectDish(ctx context.Context, dish coach.Dish) error {
	return f.submit(ctx, []Mode{ModeSearch}, "", func(ctx context.Context, t Target) (*Result, error) {
		err := f.analyzer.CheckInWithOverride(ctx, coach.CheckInOverride{
			PlannedMealID:     t.plannedID(),
			FoodName:          dish.Name,
			EstimatedCalories: dish.BaseCalories,
			Type:              t.MealType,
		})
		if err != nil {
			return nil, err
		}
		return &Result{FoodName: dish.Name, Calories: dish.BaseCalories}, nil
	})
}

func resultOf(a *coach.Analysis) *Result {
	return &Result{FoodName: a.FoodName, Calories: a.EstimatedCalories, NutritionDetails: a.NutritionDetails}
}

// submit runs one backend attempt. Local state changes only if the attempt
// succeeds and the flow was not closed or reopened in the meantime.
func (f *Flow) submit(ctx context.Context, modes []Mode, draft string, fn func(context.Context, Target) (*Result, error)) error {
	f.mu.Lock()
	if err := f.checkSubmittableLocked(modes); err != nil {
		f.mu.Unlock()
		return err
	}
	if draft != "" {
		f.draft = draft
	}
	f.state = StateSubmitting
	f.errMsg = ""
	gen := f.gen
	target := f.target
	f.mu.Unlock()

	res, err := fn(ctx, target)

	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		f.logger.Debug("discarding swap response for closed flow", zap.Int64("meal_id", target.MealID))
		return ErrStale
	}
	if err != nil {
		f.state = StateError
		f.errMsg = coach.UserMessage(err)
		f.mu.Unlock()
		f.logger.Warn("swap attempt failed", zap.Int64("meal_id", target.MealID), zap.Error(err))
		return err
	}
	f.state = StateResultShown
	f.result = res
	f.closeTimer = time.AfterFunc(f.resultDelay, func() { f.autoClose(gen) })
	f.mu.Unlock()

	f.applier.ApplySwap(target.Day, target.MealID, res.FoodName, res.Calories)
	f.logger.Info("meal swapped",
		zap.Int64("meal_id", target.MealID),
		zap.String("from", target.PreviousName),
		zap.String("to", res.FoodName),
		zap.Int("calories", res.Calories))
	return nil
}

func (f *Flow) checkSubmittableLocked(modes []Mode) error {
	switch f.state {
	case StateClosed:
		return ErrFlowClosed
	case StateSubmitting:
		return ErrSubmitting
	case StateResultShown:
		return ErrFlowOpen
	}
	for _, m := range modes {
		if f.mode == m {
			return nil
		}
	}
	return ErrWrongMode
}

func (f *Flow) autoClose(gen uint64) {
	f.mu.Lock()
	if f.gen != gen || f.state != StateResultShown {
		f.mu.Unlock()
		return
	}
	f.closeLocked()
	st := f.statusLocked()
	f.mu.Unlock()
	f.notify(st)
}

// Query schedules a catalog search after the debounce delay. A newer query
// replaces a pending one. deliver runs on a timer goroutine and is skipped when
// the query has been superseded or the flow closed.
func (f *Flow) Query(ctx context.Context, keyword string, deliver func(*coach.DishPage, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkSearchLocked(); err != nil {
		return err
	}
	f.stopSearchLocked()
	f.searchSeq++
	f.keyword = strings.TrimSpace(keyword)
	if f.keyword == "" {
		f.dishes, f.hasMore, f.page = nil, false, 0
		return nil
	}

	seq, kw := f.searchSeq, f.keyword
	f.searchTimer = time.AfterFunc(f.debounce, func() {
		page, err := f.runSearch(ctx, kw, 0, seq)
		if errors.Is(err, ErrStale) {
			return
		}
		if deliver != nil {
			deliver(page, err)
		}
		f.notify(f.Status())
	})
	return nil
}

// Search runs a catalog search immediately. Pages after the first are appended.
func (f *Flow) Search(ctx context.Context, keyword string, page int) (*coach.DishPage, error) {
	f.mu.Lock()
	if err := f.checkSearchLocked(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.stopSearchLocked()
	f.searchSeq++
	f.keyword = strings.TrimSpace(keyword)
	seq, kw := f.searchSeq, f.keyword
	f.mu.Unlock()

	return f.runSearch(ctx, kw, page, seq)
}

func (f *Flow) runSearch(ctx context.Context, keyword string, page int, seq uint64) (*coach.DishPage, error) {
	f.mu.Lock()
	category := f.target.MealType
	f.mu.Unlock()

	res, err := f.analyzer.SearchDishes(ctx, coach.DishQuery{Keyword: keyword, Category: category, Page: page})

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchSeq != seq || f.state == StateClosed {
		return nil, ErrStale
	}
	if err != nil {
		f.errMsg = coach.UserMessage(err)
		f.logger.Warn("dish search failed", zap.String("keyword", keyword), zap.Error(err))
		return nil, err
	}
	f.errMsg = ""
	if page == 0 {
		f.dishes = append([]coach.Dish(nil), res.Dishes...)
	} else {
		f.dishes = append(f.dishes, res.Dishes...)
	}
	f.hasMore = res.HasMore()
	f.page = page
	return res, nil
}

func (f *Flow) checkSearchLocked() error {
	switch f.state {
	case StateClosed:
		return ErrFlowClosed
	case StateSubmitting:
		return ErrSubmitting
	case StateResultShown:
		return ErrFlowOpen
	}
	if f.mode != ModeSearch {
		return ErrWrongMode
	}
	return nil
}

// Dish returns a dish from the current results by id.
func (f *Flow) Dish(id int64) (coach.Dish, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.dishes {
		if d.ID == id {
			return d, true
		}
	}
	return coach.Dish{}, false
}

// Close dismisses the flow. Responses still in flight are discarded.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
}

func (f *Flow) closeLocked() {
	f.resetLocked()
	f.state = StateClosed
}

func (f *Flow) resetLocked() {
	f.stopSearchLocked()
	if f.closeTimer != nil {
		f.closeTimer.Stop()
		f.closeTimer = nil
	}
	f.gen++
	f.searchSeq++
	f.mode = ""
	f.target = Target{}
	f.draft, f.errMsg, f.keyword = "", "", ""
	f.result = nil
	f.dishes, f.hasMore = nil, false
}

func (f *Flow) stopSearchLocked() {
	if f.searchTimer != nil {
		f.searchTimer.Stop()
		f.searchTimer = nil
	}
}

// Status returns a snapshot for rendering.
func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusLocked()
}

func (f *Flow) statusLocked() Status {
	st := Status{
		State:          f.state,
		Mode:           f.mode,
		Draft:          f.draft,
		Error:          f.errMsg,
		Result:         f.result,
		Keyword:        f.keyword,
		Dishes:         append([]coach.Dish(nil), f.dishes...),
		Page:           f.page,
		HasMore:        f.hasMore,
		VoiceSupported: f.transcriber != nil,
	}
	if f.state != StateClosed {
		t := f.target
		st.Target = &t
	}
	return st
}

func (f *Flow) notify(st Status) {
	if f.onChange != nil {
		f.onChange(st)
	}
}
