package fee

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/models"

	"gopkg.in/yaml.v3"
)

// FeeResolver описывает поиск комиссии по сумме перевода.
type FeeResolver interface {
	ResolveFee(amount int64, provider string) (int64, error)
}

var _ FeeResolver = (*Resolver)(nil)

type Resolver struct {
	tiers []models.FeeTier
}

// NewResolver проверяет тарифную сетку: глобальные полосы покрывают [0, ∞)
// без пропусков и пересечений, полосы одного провайдера не пересекаются.
func NewResolver(tiers []models.FeeTier) (*Resolver, error) {
	const op = "fee.NewResolver"

	byScope := make(map[string][]models.FeeTier)
	for i, t := range tiers {
		if t.MinAmount < 0 {
			return nil, fmt.Errorf("%s: тариф #%d: отрицательная нижняя граница", op, i)
		}
		if t.MaxAmount != nil && *t.MaxAmount < t.MinAmount {
			return nil, fmt.Errorf("%s: тариф #%d: верхняя граница меньше нижней", op, i)
		}
		if t.FeeAmount < 0 {
			return nil, fmt.Errorf("%s: тариф #%d: отрицательная комиссия", op, i)
		}
		byScope[t.Provider] = append(byScope[t.Provider], t)
	}

	for scope, scoped := range byScope {
		sort.Slice(scoped, func(i, j int) bool { return scoped[i].MinAmount < scoped[j].MinAmount })
		if err := checkOverlaps(scoped); err != nil {
			return nil, fmt.Errorf("%s: область %q: %w", op, scopeName(scope), err)
		}
	}

	if err := checkCoverage(byScope[""]); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sorted := make([]models.FeeTier, len(tiers))
	copy(sorted, tiers)
	return &Resolver{tiers: sorted}, nil
}

func checkOverlaps(sorted []models.FeeTier) error {
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.MaxAmount == nil || *prev.MaxAmount >= cur.MinAmount {
			return fmt.Errorf("полосы [%d..] и [%d..] пересекаются", prev.MinAmount, cur.MinAmount)
		}
	}
	return nil
}

func checkCoverage(global []models.FeeTier) error {
	if len(global) == 0 {
		return fmt.Errorf("нет глобальных тарифов: %w", custom_err.ErrNoTierConfigured)
	}
	if global[0].MinAmount != 0 {
		return fmt.Errorf("суммы [0..%d] не покрыты: %w", global[0].MinAmount-1, custom_err.ErrNoTierConfigured)
	}
	for i := 1; i < len(global); i++ {
		if next := *global[i-1].MaxAmount + 1; global[i].MinAmount != next {
			return fmt.Errorf("суммы [%d..%d] не покрыты: %w", next, global[i].MinAmount-1, custom_err.ErrNoTierConfigured)
		}
	}
	if last := global[len(global)-1]; last.MaxAmount != nil {
		return fmt.Errorf("суммы выше %d не покрыты: %w", *last.MaxAmount, custom_err.ErrNoTierConfigured)
	}
	return nil
}

func scopeName(scope string) string {
	if scope == "" {
		return "global"
	}
	return scope
}

func (r *Resolver) ResolveFee(amount int64, provider string) (int64, error) {
	if amount <= 0 {
		return 0, custom_err.NewValidationError("amount", "must be positive")
	}

	var best *models.FeeTier
	for i := range r.tiers {
		t := &r.tiers[i]
		if !t.Contains(amount) {
			continue
		}
		if !t.IsGlobal() && t.Provider != provider {
			continue
		}
		if best == nil || moreSpecific(t, best) {
			best = t
		}
	}

	if best == nil {
		return 0, fmt.Errorf("сумма %d, провайдер %q: %w", amount, provider, custom_err.ErrNoTierConfigured)
	}
	return best.FeeAmount, nil
}

func moreSpecific(a, b *models.FeeTier) bool {
	if a.IsGlobal() != b.IsGlobal() {
		return !a.IsGlobal()
	}
	return a.MinAmount > b.MinAmount
}

type tierFile struct {
	Tiers []models.FeeTier `yaml:"tiers"`
}

// LoadTiers читает тарифную сетку из YAML-файла.
func LoadTiers(path string) ([]models.FeeTier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать файл тарифов: %w", err)
	}
	return ParseTiers(raw)
}

func ParseTiers(raw []byte) ([]models.FeeTier, error) {
	var f tierFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("ошибка разбора тарифов: %w", err)
	}
	if len(f.Tiers) == 0 {
		return nil, errors.New("файл тарифов пуст")
	}
	return f.Tiers, nil
}

// NewResolverFromFile загружает и проверяет сетку одним вызовом.
func NewResolverFromFile(path string) (*Resolver, error) {
	tiers, err := LoadTiers(path)
	if err != nil {
		return nil, err
	}
	return NewResolver(tiers)
}
