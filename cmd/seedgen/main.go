// Seed and evaluation tool for anomalyd.
//
// Usage:
//
//	go run cmd/seedgen/main.go -out seed.csv -rows 500
//	go run cmd/seedgen/main.go -rows 500 -url http://localhost:8080
//
// This tool:
//  1. Generates a synthetic transaction CSV with injected anomalies
//  2. Optionally uploads the batch and trains a model on a running anomalyd
//  3. Compares flagged assessments against the injected labels
//  4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"
)

// SeedTransaction is one generated row plus its ground-truth label.
type SeedTransaction struct {
	ID        string
	UserID    string
	Amount    float64
	Timestamp time.Time
	Category  string
	IsAnomaly bool
}

// Assessment mirrors the fields of the /analyze response items this tool
// reads.
type Assessment struct {
	TransactionID string  `json:"transactionId"`
	RiskScore     float64 `json:"riskScore"`
	RiskLevel     string  `json:"riskLevel"`
	IsAnomaly     bool    `json:"isAnomaly"`
}

// AnalyzeResponse is the /analyze response envelope.
type AnalyzeResponse struct {
	Assessments []Assessment `json:"assessments"`
	Count       int          `json:"count"`
	Flagged     int          `json:"flagged"`
}

// Metrics tracks evaluation results against the injected labels.
type Metrics struct {
	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int

	TotalInjected int
	TotalNormal   int
}

var categories = []string{"grocery", "restaurant", "fuel", "online", "retail"}

func main() {
	rows := flag.Int("rows", 500, "Number of normal rows to generate")
	anomalies := flag.Int("anomalies", 25, "Number of anomalous rows to inject")
	seed := flag.Int64("seed", 42, "Random seed")
	out := flag.String("out", "", "Write the CSV to this path instead of uploading")
	baseURL := flag.String("url", "http://localhost:8080", "anomalyd base URL")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	transactions := generate(rng, *rows, *anomalies)

	fmt.Printf("Generated %d transactions (%d injected anomalies)\n",
		len(transactions), *anomalies)

	if *out != "" {
		if err := writeCSVFile(*out, transactions); err != nil {
			fmt.Printf("ERROR: failed to write %s: %v\n", *out, err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", *out)
		return
	}

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: anomalyd not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure anomalyd is running:")
		fmt.Println("  go run cmd/anomalyd/main.go")
		os.Exit(1)
	}
	fmt.Println("anomalyd is healthy")

	client := &http.Client{Timeout: 60 * time.Second}

	if err := upload(client, *baseURL, transactions); err != nil {
		fmt.Printf("ERROR: upload failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("batch uploaded")

	if err := train(client, *baseURL); err != nil {
		fmt.Printf("ERROR: training failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("model trained")

	result, err := analyze(client, *baseURL)
	if err != nil {
		fmt.Printf("ERROR: analysis failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("analyzed %d transactions, %d flagged\n", result.Count, result.Flagged)

	printResults(score(transactions, result))
}

// generate builds rows* plausible transactions plus anomalies* rows with
// extreme amounts at odd hours.
func generate(rng *rand.Rand, rows, anomalies int) []SeedTransaction {
	users := []string{"alice", "bob", "charlie", "diana", "edward"}
	base := time.Now().UTC().AddDate(0, -1, 0).Truncate(time.Hour)

	var out []SeedTransaction
	for i := 0; i < rows; i++ {
		ts := base.Add(time.Duration(i) * 37 * time.Minute)
		// Keep normal activity in daytime hours
		for h := ts.Hour(); h >= 22 || h <= 6; h = ts.Hour() {
			ts = ts.Add(3 * time.Hour)
		}
		out = append(out, SeedTransaction{
			ID:        fmt.Sprintf("seed-%05d", i),
			UserID:    users[rng.Intn(len(users))],
			Amount:    10 + rng.Float64()*90,
			Timestamp: ts,
			Category:  categories[rng.Intn(len(categories))],
		})
	}

	for i := 0; i < anomalies; i++ {
		ts := base.Add(time.Duration(rng.Intn(rows)) * 37 * time.Minute)
		// Push anomalies into the night window
		ts = time.Date(ts.Year(), ts.Month(), ts.Day(), 2+rng.Intn(3), ts.Minute(), 0, 0, time.UTC)
		out = append(out, SeedTransaction{
			ID:        fmt.Sprintf("seed-anomaly-%03d", i),
			UserID:    users[rng.Intn(len(users))],
			Amount:    5000 + rng.Float64()*15000,
			Timestamp: ts,
			Category:  "wire",
			IsAnomaly: true,
		})
	}

	return out
}

func toCSV(transactions []SeedTransaction) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"transaction_id", "user_id", "amount", "timestamp", "merchant_category"}); err != nil {
		return nil, err
	}
	for _, tx := range transactions {
		record := []string{
			tx.ID,
			tx.UserID,
			strconv.FormatFloat(tx.Amount, 'f', 2, 64),
			tx.Timestamp.Format(time.RFC3339),
			tx.Category,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func writeCSVFile(path string, transactions []SeedTransaction) error {
	data, err := toCSV(transactions)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func upload(client *http.Client, baseURL string, transactions []SeedTransaction) error {
	data, err := toCSV(transactions)
	if err != nil {
		return err
	}

	resp, err := client.Post(baseURL+"/upload/csv?source=seedgen", "text/csv", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func train(client *http.Client, baseURL string) error {
	resp, err := client.Post(baseURL+"/train", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func analyze(client *http.Client, baseURL string) (*AnalyzeResponse, error) {
	resp, err := client.Get(baseURL + "/analyze")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func score(transactions []SeedTransaction, result *AnalyzeResponse) *Metrics {
	labels := make(map[string]bool, len(transactions))
	for _, tx := range transactions {
		labels[tx.ID] = tx.IsAnomaly
	}

	m := &Metrics{}
	for _, a := range result.Assessments {
		actual, ok := labels[a.TransactionID]
		if !ok {
			continue // Pre-existing warehouse rows
		}
		if actual {
			m.TotalInjected++
		} else {
			m.TotalNormal++
		}

		switch {
		case a.IsAnomaly && actual:
			m.TruePositives++
		case a.IsAnomaly && !actual:
			m.FalsePositives++
		case !a.IsAnomaly && !actual:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}
	}
	return m
}

func printResults(m *Metrics) {
	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Injected anomalies: %d\n", m.TotalInjected)
	fmt.Printf("   Normal rows:        %d\n", m.TotalNormal)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Printf("   TP: %5d   FN: %5d\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("   FP: %5d   TN: %5d\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Println()
}
