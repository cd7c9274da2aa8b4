// Package demo seeds synthetic customers, transactions, and policy documents
// so the pipeline can be exercised without real data. Generation is
// deterministic: a fixed-seed RNG produces the same dataset shape on every
// fresh database.
package demo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kansa/internal/embedding"
	"github.com/ashita-ai/kansa/internal/model"
	"github.com/ashita-ai/kansa/internal/storage"
)

const (
	rngSeed          = 42
	customerCount    = 20
	transactionCount = 500
	anomalyRate      = 0.05
)

var accountTypes = []string{"checking", "savings", "business"}

var firstNames = []string{
	"Alex", "Blake", "Casey", "Dana", "Elliot", "Frankie", "Gray", "Harper",
	"Indira", "Jordan", "Kai", "Lennon", "Morgan", "Noor", "Oakley", "Parker",
	"Quinn", "Riley", "Sage", "Taylor",
}

var lastNames = []string{
	"Abara", "Bennett", "Castillo", "Dubois", "Eriksen", "Fontaine", "Gupta",
	"Hayashi", "Iqbal", "Johansson", "Kowalski", "Lindqvist", "Moreau",
	"Nakamura", "Okafor", "Petrov", "Quintero", "Rossi", "Santos", "Tanaka",
}

// categoryRanges maps each spending category to its typical amount range.
var categoryRanges = map[string][2]float64{
	"groceries":       {15, 150},
	"restaurants":     {20, 100},
	"gas":             {30, 80},
	"utilities":       {50, 200},
	"entertainment":   {10, 100},
	"shopping":        {25, 300},
	"travel":          {100, 500},
	"healthcare":      {50, 400},
	"insurance":       {100, 500},
	"online_services": {5, 50},
}

var merchants = map[string][]string{
	"groceries":       {"FreshMart", "GreenGrocer", "QuickStop Market", "Whole Foods Co"},
	"restaurants":     {"The Local Bistro", "Pizza Palace", "Sushi Express", "Cafe Corner"},
	"gas":             {"Shell Station", "QuickFuel", "EcoGas", "MainStreet Fuel"},
	"utilities":       {"City Power Co", "Water Works", "Internet Services Inc", "Gas Company"},
	"entertainment":   {"Cinema Plus", "StreamFlix", "GameZone", "Concert Hall"},
	"shopping":        {"MegaMart", "Fashion Outlet", "Tech Store", "Home Goods"},
	"travel":          {"Skyline Airlines", "Grand Hotel", "RentACar Pro", "Travel Agency"},
	"healthcare":      {"City Medical Center", "Pharmacy Plus", "Dental Care", "Vision Center"},
	"insurance":       {"SafeGuard Insurance", "Health Shield", "Auto Protect", "Life Secure"},
	"online_services": {"CloudStorage Co", "Software Suite", "Music Streaming", "News Portal"},
}

var categories = []string{
	"groceries", "restaurants", "gas", "utilities", "entertainment",
	"shopping", "travel", "healthcare", "insurance", "online_services",
}

var foreignCountries = []string{"UK", "FR", "DE", "JP", "AU"}

// Counts reports how many records a Seed call created.
type Counts struct {
	Customers    int `json:"customers"`
	Transactions int `json:"transactions"`
	Policies     int `json:"policies"`
}

// Seed populates the store with synthetic data. A database that already has
// customers is left untouched and zero counts are returned.
func Seed(ctx context.Context, store storage.Store, embedder embedding.Provider, logger *slog.Logger) (Counts, error) {
	existing, err := store.ListCustomers(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("demo: check existing data: %w", err)
	}
	if len(existing) > 0 {
		logger.Info("database already contains data, skipping seeding")
		return Counts{}, nil
	}

	rng := rand.New(rand.NewSource(rngSeed))
	now := time.Now().UTC()

	customers := generateCustomers(rng, now)
	for _, c := range customers {
		if err := store.CreateCustomer(ctx, c); err != nil {
			return Counts{}, fmt.Errorf("demo: create customer: %w", err)
		}
	}
	logger.Info("seeded customers", "count", len(customers))

	txns := generateTransactions(rng, customers, now)
	if err := store.InsertTransactions(ctx, txns); err != nil {
		return Counts{}, fmt.Errorf("demo: insert transactions: %w", err)
	}
	labeled := 0
	for _, t := range txns {
		if t.Labeled {
			labeled++
		}
	}
	logger.Info("seeded transactions", "count", len(txns), "labeled_anomalies", labeled)

	if err := seedPolicies(ctx, store, embedder, now); err != nil {
		return Counts{}, err
	}
	logger.Info("seeded policy documents", "count", len(policyDocuments))

	return Counts{
		Customers:    len(customers),
		Transactions: len(txns),
		Policies:     len(policyDocuments),
	}, nil
}

func generateCustomers(rng *rand.Rand, now time.Time) []model.Customer {
	customers := make([]model.Customer, 0, customerCount)
	for i := 0; i < customerCount; i++ {
		first := firstNames[rng.Intn(len(firstNames))]
		last := lastNames[rng.Intn(len(lastNames))]
		customers = append(customers, model.Customer{
			ID:          uuid.New(),
			Name:        first + " " + last,
			Email:       fmt.Sprintf("%s.%s.%d@example.test", lower(first), lower(last), i),
			AccountType: accountTypes[rng.Intn(len(accountTypes))],
			CreatedAt:   now.AddDate(0, 0, -rng.Intn(730)),
		})
	}
	return customers
}

func generateTransactions(rng *rand.Rand, customers []model.Customer, now time.Time) []model.Transaction {
	numAnomalies := int(float64(transactionCount) * anomalyRate)
	txns := make([]model.Transaction, 0, transactionCount)

	// Normal transactions: typical amounts, daytime hours.
	for i := 0; i < transactionCount-numAnomalies; i++ {
		customer := customers[rng.Intn(len(customers))]
		category := categories[rng.Intn(len(categories))]
		bounds := categoryRanges[category]

		txns = append(txns, model.Transaction{
			ID:         uuid.New(),
			CustomerID: customer.ID,
			Amount:     round2(bounds[0] + rng.Float64()*(bounds[1]-bounds[0])),
			Currency:   "USD",
			Merchant:   pick(rng, merchants[category]),
			Category:   category,
			OccurredAt: at(rng, now, 6+rng.Intn(18)),
		})
	}

	// Injected anomalies: large amounts, odd hours, foreign merchants, or
	// high-frequency bursts. All carry the Labeled flag.
	for i := 0; i < numAnomalies; i++ {
		customer := customers[rng.Intn(len(customers))]
		category := categories[rng.Intn(len(categories))]
		bounds := categoryRanges[category]

		var amount float64
		merchant := pick(rng, merchants[category])
		hour := 6 + rng.Intn(18)

		switch rng.Intn(4) {
		case 0: // large amount, 10x-15x typical
			amount = round2(bounds[0]*10 + rng.Float64()*(bounds[1]*15-bounds[0]*10))
		case 1: // odd hour, 2-5 AM
			amount = round2(bounds[0] + rng.Float64()*(bounds[1]-bounds[0]))
			hour = 2 + rng.Intn(4)
		case 2: // foreign merchant
			amount = round2(bounds[0]*2 + rng.Float64()*(bounds[1]*3-bounds[0]*2))
			merchant = pick(rng, foreignCountries) + "-" + merchant
		default: // one of a high-frequency burst
			amount = round2(bounds[0] + rng.Float64()*(bounds[1]*0.5-bounds[0]))
		}

		txns = append(txns, model.Transaction{
			ID:         uuid.New(),
			CustomerID: customer.ID,
			Amount:     amount,
			Currency:   "USD",
			Merchant:   merchant,
			Category:   category,
			OccurredAt: at(rng, now, hour),
			Labeled:    true,
		})
	}

	return txns
}

// seedPolicies embeds and inserts the policy corpus. Embedding calls run
// concurrently since network providers dominate the seeding time.
func seedPolicies(ctx context.Context, store storage.Store, embedder embedding.Provider, now time.Time) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, p := range policyDocuments {
		g.Go(func() error {
			vec, err := embedder.Embed(gctx, p.Title+"\n"+p.Content)
			if err != nil {
				return fmt.Errorf("demo: embed policy %q: %w", p.Title, err)
			}
			doc := model.PolicyDocument{
				ID:        uuid.New(),
				Title:     p.Title,
				Content:   p.Content,
				Category:  p.Category,
				CreatedAt: now,
			}
			if err := store.InsertPolicyDocument(gctx, doc, vec); err != nil {
				return fmt.Errorf("demo: insert policy %q: %w", p.Title, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func pick(rng *rand.Rand, options []string) string {
	return options[rng.Intn(len(options))]
}

// at returns a timestamp within the last 90 days at the given hour.
func at(rng *rand.Rand, now time.Time, hour int) time.Time {
	day := now.AddDate(0, 0, -rng.Intn(90))
	return time.Date(day.Year(), day.Month(), day.Day(), hour, rng.Intn(60), 0, 0, time.UTC)
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}
