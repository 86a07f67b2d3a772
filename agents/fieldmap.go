package agents

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// FieldType categorizes document and form fields.
type FieldType string

const (
	FieldTypeText      FieldType = "text"
	FieldTypeEmail     FieldType = "email"
	FieldTypePhone     FieldType = "phone"
	FieldTypeDate      FieldType = "date"
	FieldTypeNumber    FieldType = "number"
	FieldTypeCurrency  FieldType = "currency"
	FieldTypeAddress   FieldType = "address"
	FieldTypeName      FieldType = "name"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeSignature FieldType = "signature"
	FieldTypeUnknown   FieldType = "unknown"
)

// MatchStrategy names the channel that contributed most to a mapping.
type MatchStrategy string

const (
	MatchExact    MatchStrategy = "exact"
	MatchFuzzy    MatchStrategy = "fuzzy"
	MatchSemantic MatchStrategy = "semantic"
	MatchRule     MatchStrategy = "rule_based"
	MatchHybrid   MatchStrategy = "hybrid"
)

// DocumentField is a field extracted from a document.
type DocumentField struct {
	Name  string    `json:"name"`
	Value any       `json:"value"`
	Type  FieldType `json:"type"`
}

// FormField is a target field in the form being filled.
type FormField struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
}

// FieldMapping links one document field to one form field with a composite
// confidence and a per-channel score breakdown.
type FieldMapping struct {
	SourceField string             `json:"source_field"`
	TargetField string             `json:"target_field"`
	Confidence  float64            `json:"confidence"`
	Type        FieldType          `json:"type"`
	Strategy    MatchStrategy      `json:"strategy"`
	Breakdown   map[string]float64 `json:"breakdown,omitempty"`
}

// MapperConfig tunes the hybrid matcher. Channel weights are relative; the
// composite score is normalized by the enabled weight total.
type MapperConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	FuzzyWeight         float64 `yaml:"fuzzy_weight"`
	SemanticWeight      float64 `yaml:"semantic_weight"`
	RuleWeight          float64 `yaml:"rule_weight"`
	MaxSuggestions      int     `yaml:"max_suggestions"`
}

// DefaultMapperConfig returns the tuned defaults.
func DefaultMapperConfig() MapperConfig {
	return MapperConfig{
		SimilarityThreshold: 0.7,
		ConfidenceThreshold: 0.6,
		FuzzyWeight:         0.3,
		SemanticWeight:      0.4,
		RuleWeight:          0.3,
		MaxSuggestions:      5,
	}
}

// FieldMapper matches document fields to form fields with a hybrid of fuzzy
// string similarity, token-level semantic similarity, and curated rules.
type FieldMapper struct {
	config MapperConfig
	logger *slog.Logger
	rules  []mappingRulePair
}

// NewFieldMapper creates a mapper. A nil logger discards output.
func NewFieldMapper(config MapperConfig, logger *slog.Logger) *FieldMapper {
	if config.MaxSuggestions <= 0 {
		config.MaxSuggestions = 5
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FieldMapper{
		config: config,
		logger: logger,
		rules:  mappingRules(),
	}
}

// MapFields maps each document field to its best form-field candidate,
// keeping only mappings above the confidence floor and resolving conflicts
// where several document fields claim the same target.
func (m *FieldMapper) MapFields(docFields []DocumentField, formFields []FormField) []FieldMapping {
	var mappings []FieldMapping
	for _, docField := range docFields {
		candidates := m.candidates(docField, formFields)
		if len(candidates) == 0 {
			continue
		}
		best := candidates[0]
		if best.Confidence >= m.config.ConfidenceThreshold {
			mappings = append(mappings, best)
			m.logger.Debug("mapped field",
				"source", best.SourceField,
				"target", best.TargetField,
				"confidence", best.Confidence,
				"strategy", best.Strategy)
		}
	}
	return m.resolveConflicts(mappings)
}

// candidates scores one document field against every form field, returning
// those above the similarity threshold, best first, capped at MaxSuggestions.
func (m *FieldMapper) candidates(docField DocumentField, formFields []FormField) []FieldMapping {
	var out []FieldMapping
	for _, formField := range formFields {
		breakdown := map[string]float64{}
		var total, totalWeight float64

		if m.config.FuzzyWeight > 0 {
			score := fuzzyScore(docField.Name, formField.Name)
			breakdown["fuzzy"] = score
			total += score * m.config.FuzzyWeight
			totalWeight += m.config.FuzzyWeight
		}
		if m.config.SemanticWeight > 0 {
			score := semanticScore(docField.Name, formField.Name)
			breakdown["semantic"] = score
			total += score * m.config.SemanticWeight
			totalWeight += m.config.SemanticWeight
		}
		if m.config.RuleWeight > 0 {
			score := m.ruleScore(docField.Name, formField.Name)
			breakdown["rule_based"] = score
			total += score * m.config.RuleWeight
			totalWeight += m.config.RuleWeight
		}

		var confidence float64
		if totalWeight > 0 {
			confidence = total / totalWeight
		}
		confidence += typeCompatibilityBonus(docField.Type, formField.Type) * 0.1
		if confidence > 1.0 {
			confidence = 1.0
		}

		if confidence >= m.config.SimilarityThreshold {
			out = append(out, FieldMapping{
				SourceField: docField.Name,
				TargetField: formField.Name,
				Confidence:  confidence,
				Type:        inferFieldType(docField, formField),
				Strategy:    dominantStrategy(docField.Name, formField.Name, breakdown),
				Breakdown:   breakdown,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if len(out) > m.config.MaxSuggestions {
		out = out[:m.config.MaxSuggestions]
	}
	return out
}

// resolveConflicts keeps only the best mapping when multiple document fields
// claim the same target.
func (m *FieldMapper) resolveConflicts(mappings []FieldMapping) []FieldMapping {
	byTarget := map[string]FieldMapping{}
	var order []string
	for _, mapping := range mappings {
		existing, ok := byTarget[mapping.TargetField]
		if !ok {
			byTarget[mapping.TargetField] = mapping
			order = append(order, mapping.TargetField)
			continue
		}
		if mapping.Confidence > existing.Confidence {
			m.logger.Warn("mapping conflict resolved",
				"target", mapping.TargetField,
				"selected", mapping.SourceField,
				"displaced", existing.SourceField)
			byTarget[mapping.TargetField] = mapping
		} else {
			m.logger.Warn("mapping conflict resolved",
				"target", mapping.TargetField,
				"selected", existing.SourceField,
				"displaced", mapping.SourceField)
		}
	}
	out := make([]FieldMapping, 0, len(order))
	for _, target := range order {
		out = append(out, byTarget[target])
	}
	return out
}

type mappingRulePair struct {
	doc  *regexp.Regexp
	form *regexp.Regexp
}

// mappingRules are curated field-name equivalences that string similarity
// alone misses, like "dob" against "birth date".
func mappingRules() []mappingRulePair {
	pairs := [][2]string{
		{`(first|given).*name`, `(first|given).*name`},
		{`(last|family|sur).*name`, `(last|family|sur).*name`},
		{`full.*name`, `(full|complete).*name`},
		{`email.*address`, `email`},
		{`phone.*number`, `phone`},
		{`mobile.*number`, `(mobile|cell)`},
		{`street.*address`, `(street|address)`},
		{`city`, `city`},
		{`state`, `state`},
		{`zip.*code`, `(zip|postal)`},
		{`birth.*date`, `(birth|dob)`},
		{`date.*birth`, `(birth|dob)`},
		{`salary`, `(salary|income)`},
		{`amount`, `amount`},
	}
	rules := make([]mappingRulePair, len(pairs))
	for i, p := range pairs {
		rules[i] = mappingRulePair{
			doc:  regexp.MustCompile(p[0]),
			form: regexp.MustCompile(p[1]),
		}
	}
	return rules
}

// ruleScore applies the curated rules plus substring and word-overlap checks.
func (m *FieldMapper) ruleScore(docName, formName string) float64 {
	docLower := strings.ToLower(docName)
	formLower := strings.ToLower(formName)

	if docLower == formLower {
		return 1.0
	}

	var score float64
	for _, rule := range m.rules {
		if rule.doc.MatchString(docLower) && rule.form.MatchString(formLower) {
			score = max(score, 0.9)
		}
	}
	if strings.Contains(formLower, docLower) || strings.Contains(docLower, formLower) {
		score = max(score, 0.7)
	}
	if jaccard := wordOverlap(docLower, formLower); jaccard > 0 {
		score = max(score, jaccard*0.8)
	}
	return score
}

// wordOverlap is the Jaccard similarity of whitespace-separated words.
func wordOverlap(a, b string) float64 {
	aWords := map[string]struct{}{}
	for _, w := range strings.Fields(a) {
		aWords[w] = struct{}{}
	}
	bWords := map[string]struct{}{}
	for _, w := range strings.Fields(b) {
		bWords[w] = struct{}{}
	}
	if len(aWords) == 0 && len(bWords) == 0 {
		return 0
	}
	overlap := 0
	for w := range aWords {
		if _, ok := bWords[w]; ok {
			overlap++
		}
	}
	union := len(aWords) + len(bWords) - overlap
	if union == 0 {
		return 0
	}
	return float64(overlap) / float64(union)
}

// typeCompatibilityBonus rewards candidate pairs whose declared types agree or
// are commonly interchangeable.
func typeCompatibilityBonus(docType, formType FieldType) float64 {
	if docType == formType {
		return 0.2
	}
	compatible := map[[2]FieldType]float64{
		{FieldTypeText, FieldTypeName}:       0.1,
		{FieldTypeText, FieldTypeAddress}:    0.1,
		{FieldTypeNumber, FieldTypeCurrency}: 0.15,
		{FieldTypeText, FieldTypeEmail}:      0.1,
		{FieldTypeText, FieldTypePhone}:      0.1,
	}
	if bonus, ok := compatible[[2]FieldType{docType, formType}]; ok {
		return bonus
	}
	if bonus, ok := compatible[[2]FieldType{formType, docType}]; ok {
		return bonus
	}
	return 0
}

// dominantStrategy names the channel with the highest score; an exact name
// match is reported as exact regardless.
func dominantStrategy(docName, formName string, breakdown map[string]float64) MatchStrategy {
	if strings.EqualFold(docName, formName) {
		return MatchExact
	}
	best := ""
	bestScore := -1.0
	for channel, score := range breakdown {
		if score > bestScore || (score == bestScore && channel < best) {
			best = channel
			bestScore = score
		}
	}
	switch best {
	case "fuzzy":
		return MatchFuzzy
	case "semantic":
		return MatchSemantic
	case "rule_based":
		return MatchRule
	}
	return MatchHybrid
}

// inferFieldType picks the mapping's field type: the form's declared type
// wins, then the document's, then name heuristics.
func inferFieldType(docField DocumentField, formField FormField) FieldType {
	if formField.Type != FieldTypeUnknown && formField.Type != "" {
		return formField.Type
	}
	if docField.Type != FieldTypeUnknown && docField.Type != "" {
		return docField.Type
	}
	return InferTypeFromName(docField.Name)
}

// InferTypeFromName guesses a field type from its name alone.
func InferTypeFromName(name string) FieldType {
	name = strings.ToLower(name)
	switch {
	case containsAny(name, "email", "e-mail"):
		return FieldTypeEmail
	case containsAny(name, "phone", "mobile", "tel"):
		return FieldTypePhone
	case containsAny(name, "date", "birth", "dob"):
		return FieldTypeDate
	case containsAny(name, "name", "first", "last"):
		return FieldTypeName
	case containsAny(name, "address", "street", "city"):
		return FieldTypeAddress
	case containsAny(name, "amount", "price", "salary"):
		return FieldTypeCurrency
	}
	return FieldTypeText
}

func containsAny(s string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
