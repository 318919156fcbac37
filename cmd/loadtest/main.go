package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	idempotencyHeader = "Idempotency-Key"
	defaultPriceMinor = int64(1000)
	defaultQty        = int32(1)

	codeTransportError = "transport_error"
)

type loadMode string

const (
	modeSale          loadMode = "sale"
	modeSaleRecompute loadMode = "sale-recompute"
	modeSaleReplay    loadMode = "sale-replay"
)

type config struct {
	addr          string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	connections   int
	timeout       time.Duration
	mode          loadMode
	vehicleID     string
	customerID    string
	qty           int32
	priceMinor    int64
	paymentMethod string
	allowSoldOut  bool
	outputPath    string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	SoldOutScenarios  int64                   `json:"sold_out_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	soldOut int64
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, code string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if success {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) recordSoldOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.soldOut++
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}

	codesCopy := make(map[string]int64, len(stats.codes))
	for code, count := range stats.codes {
		codesCopy[code] = count
	}

	return methodReport{
		Calls:     stats.calls,
		Success:   stats.success,
		Failed:    stats.failed,
		ErrorRate: ratio(stats.failed, stats.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(stats.latencies),
	}, true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:        startedAt.UTC(),
		DurationSeconds:  duration.Seconds(),
		SoldOutScenarios: c.soldOut,
		Methods:          make(map[string]methodReport, len(c.methods)),
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.addr, "addr", "http://localhost:8080", "checkout service base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.connections, "connections", 20, "max idle HTTP connections per host")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeSale), "load mode: sale | sale-recompute | sale-replay")
	flag.StringVar(&cfg.vehicleID, "vehicle-id", "", "vehicle id to sell (must exist with enough stock)")
	flag.StringVar(&cfg.customerID, "customer-id", "", "customer id to bill (must exist)")
	var qty int
	flag.IntVar(&qty, "qty", int(defaultQty), "units per sale line")
	flag.Int64Var(&cfg.priceMinor, "price-minor", defaultPriceMinor, "unit price in minor units")
	flag.StringVar(&cfg.paymentMethod, "payment-method", "cash", "payment method: cash | credit_card | financing")
	flag.BoolVar(&cfg.allowSoldOut, "allow-sold-out", false, "treat 409 insufficient stock as an expected outcome, not a failure")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	cfg.qty = int32(qty)

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	return cfg, validateConfig(cfg)
}

func validateConfig(cfg config) error {
	if strings.TrimSpace(cfg.addr) == "" {
		return errors.New("addr is required")
	}
	if !strings.HasPrefix(cfg.addr, "http://") && !strings.HasPrefix(cfg.addr, "https://") {
		return fmt.Errorf("addr must be an http(s) URL: %s", cfg.addr)
	}
	if cfg.duration < 0 {
		return errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return errors.New("connections must be > 0")
	}
	if cfg.timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if strings.TrimSpace(cfg.vehicleID) == "" {
		return errors.New("vehicle-id is required")
	}
	if strings.TrimSpace(cfg.customerID) == "" {
		return errors.New("customer-id is required")
	}
	if cfg.qty <= 0 {
		return errors.New("qty must be > 0")
	}
	if cfg.priceMinor <= 0 {
		return errors.New("price-minor must be > 0")
	}
	switch strings.TrimSpace(cfg.paymentMethod) {
	case "cash", "credit_card", "financing":
	default:
		return fmt.Errorf("unsupported payment method: %s", cfg.paymentMethod)
	}
	return nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeSale:
		return modeSale, nil
	case modeSaleRecompute:
		return modeSaleRecompute, nil
	case modeSaleReplay:
		return modeSaleReplay, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{
		Timeout: cfg.timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.connections,
			MaxIdleConnsPerHost: cfg.connections,
		},
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(client, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type saleRequest struct {
	CustomerID     string `json:"customer_id"`
	VehicleID      string `json:"vehicle_id"`
	Quantity       int32  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	PaymentMethod  string `json:"payment_method"`
}

type saleResponse struct {
	SaleID  string `json:"sale_id"`
	Invoice string `json:"invoice"`
}

type updateTotalsRequest struct {
	CustomerID string `json:"customer_id"`
}

type callResult struct {
	status int
	body   []byte
	err    error
}

func (r callResult) success() bool {
	return r.err == nil && r.status >= 200 && r.status < 300
}

func (r callResult) code() string {
	if r.err != nil {
		return codeTransportError
	}
	return fmt.Sprintf("%d", r.status)
}

func runScenario(
	client *http.Client,
	cfg config,
	index int,
	runID string,
	col *collector,
) error {
	scenarioStart := time.Now()
	scenarioCode := "200"
	scenarioOK := true
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode, scenarioOK)
	}()

	saleReq := saleRequest{
		CustomerID:     cfg.customerID,
		VehicleID:      cfg.vehicleID,
		Quantity:       cfg.qty,
		UnitPriceMinor: cfg.priceMinor,
		PaymentMethod:  strings.TrimSpace(cfg.paymentMethod),
	}

	saleKey := fmt.Sprintf("lt-sale-%s-%d", runID, index)
	created := callCreateSale(client, cfg, saleReq, saleKey, col)
	if !created.success() {
		if created.err == nil && created.status == http.StatusConflict && cfg.allowSoldOut {
			col.recordSoldOut()
			scenarioCode = created.code()
			return nil
		}
		scenarioCode = created.code()
		scenarioOK = false
		if created.err != nil {
			return created.err
		}
		return fmt.Errorf("create sale returned status %d", created.status)
	}

	var sale saleResponse
	if err := json.Unmarshal(created.body, &sale); err != nil || sale.SaleID == "" {
		scenarioCode = "invalid_body"
		scenarioOK = false
		return errors.New("create sale response has no sale id")
	}

	switch cfg.mode {
	case modeSale:
		return nil
	case modeSaleReplay:
		replayed := callReplaySale(client, cfg, saleReq, saleKey, col)
		if !replayed.success() {
			scenarioCode = replayed.code()
			scenarioOK = false
			return fmt.Errorf("replay sale returned status %d", replayed.status)
		}
		var replay saleResponse
		if err := json.Unmarshal(replayed.body, &replay); err != nil || replay.SaleID != sale.SaleID {
			scenarioCode = "replay_mismatch"
			scenarioOK = false
			return errors.New("idempotent replay returned a different sale")
		}
		return nil
	case modeSaleRecompute:
		recomputed := callRecomputeTotals(client, cfg, col)
		if !recomputed.success() {
			scenarioCode = recomputed.code()
			scenarioOK = false
			return fmt.Errorf("recompute totals returned status %d", recomputed.status)
		}
		return nil
	}

	return nil
}

func callCreateSale(client *http.Client, cfg config, req saleRequest, key string, col *collector) callResult {
	return timedPost(client, col, "CreateSale", cfg.addr+"/sales", req, key)
}

func callReplaySale(client *http.Client, cfg config, req saleRequest, key string, col *collector) callResult {
	return timedPost(client, col, "ReplaySale", cfg.addr+"/sales", req, key)
}

func callRecomputeTotals(client *http.Client, cfg config, col *collector) callResult {
	req := updateTotalsRequest{CustomerID: cfg.customerID}
	return timedPost(client, col, "RecomputeTotals", cfg.addr+"/customers/updateTotals", req, "")
}

func timedPost(client *http.Client, col *collector, method, url string, payload any, idempotencyKey string) callResult {
	start := time.Now()
	result := postJSON(client, url, payload, idempotencyKey)
	col.record(method, time.Since(start), result.code(), result.success())
	return result
}

func postJSON(client *http.Client, url string, payload any, idempotencyKey string) callResult {
	body, err := json.Marshal(payload)
	if err != nil {
		return callResult{err: err}
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return callResult{err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return callResult{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return callResult{status: resp.StatusCode, err: err}
	}

	return callResult{status: resp.StatusCode, body: respBody}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d sold_out=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.SoldOutScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
