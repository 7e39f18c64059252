package risk

import (
	"math/big"
	"regexp"
	"strings"

	dErrors "trustcore/pkg/domain-errors"
)

// Login decision bands. A login that deviates on every axis is blocked;
// a high score short of that is held for review.
const loginBlockScore = 90

// Engine scores contexts against the current reference snapshot.
// Evaluate is pure: identical inputs and reference data give identical
// assessments.
type Engine struct {
	ref *ReferenceHolder
}

func NewEngine(ref *ReferenceHolder) *Engine {
	return &Engine{ref: ref}
}

func (e *Engine) Evaluate(c Context) (Assessment, error) {
	if c == nil {
		return Assessment{}, dErrors.New(dErrors.CodeValidation, "context is required")
	}
	if err := c.Validate(); err != nil {
		return Assessment{}, err
	}

	ref := e.ref.Load()
	if ref == nil {
		return unavailable(c), nil
	}

	switch in := c.(type) {
	case *TransactionContext:
		return evaluateTransaction(in, ref), nil
	case *ScreeningContext:
		if len(ref.entries) == 0 {
			return unavailable(c), nil
		}
		return evaluateScreening(in, ref), nil
	case *LoginContext:
		if in.BaselineUnavailable {
			return unavailable(c), nil
		}
		return evaluateLogin(in, ref), nil
	default:
		return Assessment{}, dErrors.New(dErrors.CodeValidation, "unsupported context type")
	}
}

// unavailable is the conservative verdict when the engine cannot see the
// data it needs.
func unavailable(c Context) Assessment {
	return newAssessment(c, 100, []string{FlagReferenceDataUnavailable}, DecisionReview)
}

func evaluateTransaction(t *TransactionContext, ref *ReferenceData) Assessment {
	score, flags := apply(transactionRules, t, ref)
	decision := DecisionAllow
	if LevelFor(score) == LevelHigh {
		decision = DecisionReview
	}

	if strings.TrimSpace(t.CounterpartName) == "" {
		return newAssessment(t, score, flags, decision)
	}
	if len(ref.entries) == 0 {
		return newAssessment(t, 100, append(flags, FlagReferenceDataUnavailable), DecisionReview)
	}
	match := screen(ref, t.CounterpartName, t.CounterpartJurisdiction)
	switch match.decision {
	case DecisionBlock:
		score = max(score, screeningScore(ref, match))
		flags = append(flags, FlagSanctionsMatch)
		decision = DecisionBlock
	case DecisionReview:
		score = max(score, screeningScore(ref, match))
		flags = append(flags, FlagSanctionsPotentialMatch)
		decision = DecisionReview
	}
	return newAssessment(t, score, flags, decision)
}

func evaluateScreening(s *ScreeningContext, ref *ReferenceData) Assessment {
	match := screen(ref, s.Name, s.Country)
	var flags []string
	switch match.decision {
	case DecisionBlock:
		flags = []string{FlagSanctionsMatch}
	case DecisionReview:
		flags = []string{FlagSanctionsPotentialMatch}
	}
	return newAssessment(s, screeningScore(ref, match), flags, match.decision)
}

func evaluateLogin(l *LoginContext, ref *ReferenceData) Assessment {
	if l.Baseline == nil {
		score, flags := 40, []string{FlagNoBaseline}
		return newAssessment(l, score, flags, loginDecision(score))
	}
	score, flags := apply(loginRules, l, ref)
	return newAssessment(l, score, flags, loginDecision(score))
}

func loginDecision(score int) Decision {
	switch {
	case score >= loginBlockScore:
		return DecisionBlock
	case LevelFor(score) == LevelHigh:
		return DecisionReview
	default:
		return DecisionAllow
	}
}

func newAssessment(c Context, score int, flags []string, decision Decision) Assessment {
	score = clamp(score)
	if flags == nil {
		flags = []string{}
	}
	return Assessment{
		SubjectID:   c.Subject(),
		ContextType: c.Type(),
		Score:       score,
		Level:       LevelFor(score),
		Flags:       normalizeFlags(flags),
		Decision:    decision,
		EvaluatedAt: c.EvaluatedAt().UTC(),
	}
}

// amountPattern accepts plain decimals only. Exponents and fractions are
// refused so parsing cost stays bounded by the digit limits.
var amountPattern = regexp.MustCompile(`^[0-9]{1,24}(\.[0-9]{1,18})?$`)

func parseAmount(s string) (*big.Rat, bool) {
	s = strings.TrimSpace(s)
	if !amountPattern.MatchString(s) {
		return nil, false
	}
	return new(big.Rat).SetString(s)
}

func upperCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
