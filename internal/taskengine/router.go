package taskengine

import (
	"strings"
	"sync"

	"taskengine.dev/engine/common/llm"
	"taskengine.dev/engine/internal/model"
)

// RoutingStrategy picks how the router weighs local vs. hosted providers.
type RoutingStrategy string

const (
	StrategyLocalFirst    RoutingStrategy = "local_first"
	StrategyCloudFirst    RoutingStrategy = "cloud_first"
	StrategyCostOptimized RoutingStrategy = "cost_optimized"
	StrategyQualityFirst  RoutingStrategy = "quality_first"
)

// StepCategory is the keyword-classified shape of a planning step, used to
// pick a baseline route (spec §4.E).
type StepCategory string

const (
	CategoryCoding       StepCategory = "coding"
	CategoryResearch     StepCategory = "research"
	CategorySecurity     StepCategory = "security"
	CategoryDataAnalysis StepCategory = "data_analysis"
	CategoryWriting      StepCategory = "writing"
	CategoryReflection   StepCategory = "reflection"
	CategoryPlanning     StepCategory = "planning"
	CategoryGeneral      StepCategory = "general"
)

// categoryKeywords is the fixed signal table spec §4.E classifies step
// descriptions against. Whichever category scores the most keyword hits
// wins; ties resolve to general.
var categoryKeywords = map[StepCategory][]string{
	CategoryCoding:       {"implement", "refactor", "function", "class", "bug", "compile", "code", "test", "debug"},
	CategoryResearch:     {"research", "investigate", "find", "explore", "search", "look up", "survey"},
	CategorySecurity:     {"vulnerability", "exploit", "auth", "credential", "permission", "secure", "cve", "sanitize"},
	CategoryDataAnalysis: {"analyze", "dataset", "statistic", "chart", "aggregate", "metric", "query", "dataframe"},
	CategoryWriting:      {"write", "draft", "document", "summarize", "report", "compose", "edit prose"},
	CategoryReflection:   {"reflect", "review", "critique", "re-plan", "revise", "evaluate progress"},
	CategoryPlanning:     {"plan", "decompose", "break down", "sequence", "prioritize", "outline"},
}

// highComplexityKeywords and lowComplexityKeywords feed complexity
// estimation alongside description length, category baseline, expected
// tool count, and conversation depth (spec §4.E).
var (
	highComplexityKeywords = []string{"architecture", "migrate", "concurrent", "distributed", "optimize", "security", "multi-step", "cross-cutting"}
	lowComplexityKeywords  = []string{"simple", "quick", "trivial", "small", "typo", "rename", "one-line"}
)

// categoryBaseline is each category's starting complexity score on the 0-10
// scale, before keyword/length/tool-count/depth adjustments.
var categoryBaseline = map[StepCategory]float64{
	CategoryCoding:       5,
	CategoryResearch:     4,
	CategorySecurity:     6,
	CategoryDataAnalysis: 5,
	CategoryWriting:      3,
	CategoryReflection:   3,
	CategoryPlanning:     4,
	CategoryGeneral:      3,
}

// StepContext is what the Router needs to classify and route one step.
type StepContext struct {
	Description       string
	ExpectedTools     []string
	ConversationDepth int
}

// ProviderProfile is one entry in the router's priority list: a named
// provider, its AgentClient, and whether it's considered "local" (cheap,
// fast, lower quality ceiling) for escalation purposes.
type ProviderProfile struct {
	Name    string
	Client  llm.AgentClient
	Local   bool
	Default model.ProviderRoute
}

// IsReadyFunc reports whether a named provider is currently reachable. The
// Router never calls providers itself — it only decides which one a caller
// should use — so availability is a caller-supplied predicate (spec §4.E).
type IsReadyFunc func(providerName string) bool

// RouterStats accumulates per-category counters for observability (spec
// §4.E "maintains per-category route counts, fallback counts, and
// escalation counts").
type RouterStats struct {
	mu          sync.Mutex
	Routes      map[StepCategory]int
	Fallbacks   map[StepCategory]int
	Escalations map[StepCategory]int
}

func newRouterStats() *RouterStats {
	return &RouterStats{
		Routes:      make(map[StepCategory]int),
		Fallbacks:   make(map[StepCategory]int),
		Escalations: make(map[StepCategory]int),
	}
}

func (s *RouterStats) recordRoute(cat StepCategory)      { s.mu.Lock(); s.Routes[cat]++; s.mu.Unlock() }
func (s *RouterStats) recordFallback(cat StepCategory)   { s.mu.Lock(); s.Fallbacks[cat]++; s.mu.Unlock() }
func (s *RouterStats) recordEscalation(cat StepCategory) { s.mu.Lock(); s.Escalations[cat]++; s.mu.Unlock() }

// Snapshot returns a point-in-time copy of the counters.
func (s *RouterStats) Snapshot() (routes, fallbacks, escalations map[StepCategory]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyMap := func(m map[StepCategory]int) map[StepCategory]int {
		out := make(map[StepCategory]int, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return copyMap(s.Routes), copyMap(s.Fallbacks), copyMap(s.Escalations)
}

// EscalationThreshold is the default complexity score (0-10) at or above
// which a local_first/cost_optimized strategy escalates to a hosted
// provider (spec §4.E, default 5.0).
const EscalationThreshold = 5.0

// escalationToolThreshold: a step expecting more than this many tools also
// triggers escalation regardless of complexity score.
const escalationToolThreshold = 2

// Router picks (provider, model, temperature, max_tokens) for a step.
// Grounded on common/llm's dual AgentClient implementations sharing one
// interface, and on internal/brain/planner.go's iteration loop for how a
// routed call is actually placed; the dynamic routing/escalation/fallback
// logic itself is new (the teacher wires one provider per call site).
type Router struct {
	mu        sync.RWMutex
	providers map[string]ProviderProfile
	// priority is the fixed hosted-fallback order escalation walks,
	// e.g. []string{"anthropic", "openai", "bedrock"}.
	priority []string
	strategy RoutingStrategy
	// workspaceOverrides replaces a category's baseline route for a
	// specific workspace.
	workspaceOverrides map[int64]map[StepCategory]model.ProviderRoute
	stats              *RouterStats
}

// NewRouter constructs a Router with the given default strategy and hosted
// fallback priority order.
func NewRouter(strategy RoutingStrategy, priority []string) *Router {
	return &Router{
		providers:          make(map[string]ProviderProfile),
		priority:           priority,
		strategy:           strategy,
		workspaceOverrides: make(map[int64]map[StepCategory]model.ProviderRoute),
		stats:              newRouterStats(),
	}
}

// RegisterProvider adds a named provider to the router's catalog.
func (r *Router) RegisterProvider(profile ProviderProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[profile.Name] = profile
}

// SetWorkspaceOverride replaces the route a workspace gets for a category,
// bypassing keyword classification entirely for that workspace/category pair.
func (r *Router) SetWorkspaceOverride(workspaceID int64, category StepCategory, route model.ProviderRoute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.workspaceOverrides[workspaceID] == nil {
		r.workspaceOverrides[workspaceID] = make(map[StepCategory]model.ProviderRoute)
	}
	r.workspaceOverrides[workspaceID][category] = route
}

// Stats exposes the router's observability counters.
func (r *Router) Stats() *RouterStats { return r.stats }

// Client resolves a provider name (as returned on model.ProviderRoute.Provider)
// to the AgentClient that actually places the call.
func (r *Router) Client(name string) (llm.AgentClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, false
	}
	return p.Client, true
}

// IsLocal reports whether name was registered as a local provider.
func (r *Router) IsLocal(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return ok && p.Local
}

// Failover returns the first ready hosted provider from the fixed priority
// list. Unlike Route's proactive, complexity-based escalation, this is a
// reactive fallback the Executor calls only after a local provider's call
// has already failed outright (spec §4.G step 6 / §7's "LLM API error ...
// triggers cloud failover" clause for local/ollama providers).
func (r *Router) Failover(isReady IsReadyFunc) (model.ProviderRoute, bool) {
	return r.bestAvailableHosted(isReady)
}

// Classify scores step.Description against the fixed keyword table and
// returns the highest-scoring category, defaulting to general on a tie or
// no match.
func Classify(step StepContext) StepCategory {
	lower := strings.ToLower(step.Description)
	best := CategoryGeneral
	bestScore := 0
	tied := false
	for _, cat := range orderedCategories {
		score := 0
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		switch {
		case score > bestScore:
			best = cat
			bestScore = score
			tied = false
		case score == bestScore && score > 0:
			tied = true
		}
	}
	if tied {
		return CategoryGeneral
	}
	return best
}

// orderedCategories fixes the order Classify walks the categories in,
// instead of an unordered map walk.
var orderedCategories = []StepCategory{
	CategoryCoding, CategoryResearch, CategorySecurity, CategoryDataAnalysis,
	CategoryWriting, CategoryReflection, CategoryPlanning,
}

// EstimateComplexity scores a step 0-10 combining keyword signals,
// description length, the category's baseline, expected-tool count, and
// conversation depth (spec §4.E).
func EstimateComplexity(step StepContext, category StepCategory) float64 {
	score := categoryBaseline[category]
	lower := strings.ToLower(step.Description)

	for _, kw := range highComplexityKeywords {
		if strings.Contains(lower, kw) {
			score += 0.8
		}
	}
	for _, kw := range lowComplexityKeywords {
		if strings.Contains(lower, kw) {
			score -= 0.8
		}
	}

	switch {
	case len(step.Description) > 300:
		score += 1
	case len(step.Description) < 40:
		score -= 0.5
	}

	if len(step.ExpectedTools) > 2 {
		score += float64(len(step.ExpectedTools)-2) * 0.5
	}

	if step.ConversationDepth > 10 {
		score += 0.5
	}

	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	return score
}

// Route picks a provider/model/temperature/max_tokens for step, honoring
// workspace overrides, the configured strategy, the escalation rule, and
// the availability predicate, and updates the observability counters.
func (r *Router) Route(workspaceID int64, step StepContext, isReady IsReadyFunc) model.ProviderRoute {
	category := Classify(step)
	complexity := EstimateComplexity(step, category)

	r.mu.RLock()
	if override, ok := r.workspaceOverrides[workspaceID][category]; ok {
		r.mu.RUnlock()
		r.stats.recordRoute(category)
		return override
	}
	r.mu.RUnlock()

	route := r.baselineRoute(category, complexity)
	r.stats.recordRoute(category)

	if r.prefersLocal() {
		escalate := complexity >= EscalationThreshold || len(step.ExpectedTools) > escalationToolThreshold
		if escalate {
			if hosted, ok := r.bestAvailableHosted(isReady); ok {
				hosted.Reason = "escalated: " + route.Reason
				r.stats.recordEscalation(category)
				route = hosted
			}
		}
	}

	if isReady != nil && !isReady(route.Provider) {
		if fallback, ok := r.fallbackChain(route.Provider, isReady); ok {
			fallback.Reason = "fallback: " + route.Reason
			r.stats.recordFallback(category)
			return fallback
		}
		// No provider ready; return the original route so the call fails
		// at dispatch time with a clear error, per spec §4.E.
	}

	return route
}

func (r *Router) prefersLocal() bool {
	return r.strategy == StrategyLocalFirst || r.strategy == StrategyCostOptimized
}

func (r *Router) baselineRoute(category StepCategory, complexity float64) model.ProviderRoute {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chosen ProviderProfile
	found := false
	for _, name := range r.priorityOrder() {
		if p, ok := r.providers[name]; ok {
			if r.prefersLocal() && !p.Local {
				continue
			}
			chosen = p
			found = true
			break
		}
	}
	if !found {
		for _, p := range r.providers {
			chosen = p
			found = true
			break
		}
	}
	if !found {
		return model.ProviderRoute{Reason: "no providers registered"}
	}

	route := chosen.Default
	route.Provider = chosen.Name
	route.Reason = string(category) + " via " + chosen.Name
	if route.Temperature == 0 {
		route.Temperature = defaultTemperatureFor(category)
	}
	if route.MaxTokens == 0 {
		route.MaxTokens = defaultMaxTokensFor(complexity)
	}
	return route
}

func (r *Router) priorityOrder() []string {
	if r.prefersLocal() {
		local := make([]string, 0, len(r.providers))
		for name, p := range r.providers {
			if p.Local {
				local = append(local, name)
			}
		}
		return local
	}
	return r.priority
}

// bestAvailableHosted walks the fixed priority list for the first ready,
// non-local provider.
func (r *Router) bestAvailableHosted(isReady IsReadyFunc) (model.ProviderRoute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.priority {
		p, ok := r.providers[name]
		if !ok || p.Local {
			continue
		}
		if isReady == nil || isReady(name) {
			route := p.Default
			route.Provider = name
			route.Reason = "hosted escalation via " + name
			return route, true
		}
	}
	return model.ProviderRoute{}, false
}

// fallbackChain walks the priority list starting after the unavailable
// provider, returning the first ready alternative.
func (r *Router) fallbackChain(unavailable string, isReady IsReadyFunc) (model.ProviderRoute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.priority {
		if name == unavailable {
			continue
		}
		p, ok := r.providers[name]
		if !ok {
			continue
		}
		if isReady(name) {
			route := p.Default
			route.Provider = name
			route.Reason = "fallback via " + name
			return route, true
		}
	}
	return model.ProviderRoute{}, false
}

func defaultTemperatureFor(category StepCategory) float64 {
	switch category {
	case CategoryCoding, CategoryDataAnalysis, CategorySecurity:
		return 0.2
	case CategoryWriting:
		return 0.7
	default:
		return 0.4
	}
}

func defaultMaxTokensFor(complexity float64) int {
	switch {
	case complexity >= 7:
		return 8192
	case complexity >= 4:
		return 4096
	default:
		return 2048
	}
}
