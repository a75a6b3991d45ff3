// Derivatives series collector CLI.
//
// It fetches candles, open interest and funding rate histories for one
// instrument, aligns them on timestamp and prints, stores or exports the
// result.
//
// Usage:
//
//	collect all --exchange Binance --symbol BTCUSDT --interval 1h --start 01.01.2024 --end 31.01.2024
//	collect candles --exchange OKX --symbol BTC-USDT-SWAP --interval 1d --start 01.01.2024 --end 31.01.2024
//	collect oi --exchange Binance --symbol BTCUSDT --interval 4h --start 01.01.2024 --end 07.01.2024
//	collect search --exchange Bybit --query btc
//
// For detailed help on any command, use: collect <command> --help
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/johnayoung/go-derivs-collector/internal/collector"
	"github.com/johnayoung/go-derivs-collector/internal/config"
	"github.com/johnayoung/go-derivs-collector/internal/export"
	applog "github.com/johnayoung/go-derivs-collector/internal/logger"
	"github.com/johnayoung/go-derivs-collector/internal/models"
	"github.com/johnayoung/go-derivs-collector/internal/storage"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "collect"
	ConfigFile = "derivs.yaml"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitDataError   = 4
	ExitInterrupt   = 130
)

// CLI holds the wiring shared by every command.
type CLI struct {
	config    *config.AppConfig
	logs      *applog.LoggerManager
	logger    *slog.Logger
	collector *collector.Collector
}

// Flags are the options accepted by the commands. Each command reads the
// subset it needs.
type Flags struct {
	Exchange       string
	Symbol         string
	MetadataSymbol string
	Interval       string
	Start          string
	End            string
	Futures        bool
	Params         map[string]string
	Query          string
	Format         string
	Limit          int
	Export         bool
	Help           bool
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	command := os.Args[1]
	switch command {
	case "--help", "-h", "help":
		printUsage()
		os.Exit(ExitSuccess)
	case "--version", "-v", "version":
		fmt.Printf("%s v%s\n", AppName, Version)
		os.Exit(ExitSuccess)
	}

	flags, err := parseFlags(os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitUsageError)
	}
	if flags.Help {
		printCommandHelp(command)
		os.Exit(ExitSuccess)
	}

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize CLI: %v\n", err)
		os.Exit(ExitConfigError)
	}

	code := cli.run(ctx, command, flags)
	cli.shutdown(ctx)
	if ctx.Err() != nil && code != ExitSuccess {
		code = ExitInterrupt
	}
	os.Exit(code)
}

func (cli *CLI) run(ctx context.Context, command string, flags *Flags) int {
	var handler func() error
	switch command {
	case "all":
		handler = func() error { return cli.handleAll(ctx, flags) }
	case "candles":
		handler = func() error { return cli.handleCandles(ctx, flags) }
	case "oi", "funding":
		handler = func() error { return cli.handleLevels(ctx, command, flags) }
	case "search":
		handler = func() error { return cli.handleSearch(flags) }
	case "markets":
		handler = func() error { return cli.handleMarkets(ctx, flags) }
	case "query":
		handler = func() error { return cli.handleQuery(ctx, flags) }
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		return ExitUsageError
	}

	logger := cli.logs.GetComponentLogger("cli").WithOperation(command)
	if err := applog.TimedOperation(ctx, logger, command, handler); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitDataError
	}
	return ExitSuccess
}

// initialize loads configuration, sets up logging and builds the collector.
func (cli *CLI) initialize(ctx context.Context) error {
	configPath := os.Getenv("DERIVS_CONFIG")
	if configPath == "" {
		configPath = ConfigFile
	}

	cm := config.NewConfigManager(configPath, slog.Default())
	if _, err := cm.LoadConfig(ctx); err != nil {
		return err
	}
	cfg := cm.GetConfig()
	cli.config = cfg

	logs, err := applog.NewLoggerManager(cfg.GetLoggingConfig())
	if err != nil {
		return err
	}
	cli.logs = logs
	cli.logger = logs.GetComponentLogger("cli").Logger

	c, err := collector.Build(ctx, cfg, logs.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to build collector: %w", err)
	}
	cli.collector = c
	return nil
}

func (cli *CLI) shutdown(ctx context.Context) {
	cli.collector.LogMetrics(context.WithoutCancel(ctx))
	if err := cli.collector.Close(); err != nil {
		cli.logger.Error("failed to close store", "error", err)
	}
	cli.logs.Close()
}

// handleAll runs the aligned collection and optionally exports it.
func (cli *CLI) handleAll(ctx context.Context, flags *Flags) error {
	if err := requireFlags(flags, "exchange", "symbol", "interval", "start", "end"); err != nil {
		return err
	}
	metadata := flags.MetadataSymbol
	if metadata == "" {
		metadata = flags.Symbol
	}

	series, err := cli.collector.GetAll(ctx, collector.AllRequest{
		Exchange:       flags.Exchange,
		TradingSymbol:  flags.Symbol,
		MetadataSymbol: metadata,
		Interval:       flags.Interval,
		Start:          flags.Start,
		End:            flags.End,
		Futures:        flags.Futures,
		Params:         flags.Params,
	})
	if err != nil {
		return err
	}

	if flags.Export || cli.config.Export.Enabled {
		exporter, err := export.NewExporter(ctx, cli.config.Export, cli.logger)
		if err != nil {
			return err
		}
		key := storage.SeriesKey{Exchange: flags.Exchange, Instrument: flags.Symbol, Interval: flags.Interval}
		result, err := exporter.Export(ctx, key, series)
		if err != nil {
			return err
		}
		if result != nil {
			fmt.Fprintf(os.Stderr, "exported %d rows (%d bytes) to %s\n", result.Rows, result.Bytes, result.LocalPath)
		}
	}

	return outputAligned(series, flags.Format, flags.Limit)
}

func (cli *CLI) handleCandles(ctx context.Context, flags *Flags) error {
	if err := requireFlags(flags, "exchange", "symbol", "interval", "start", "end"); err != nil {
		return err
	}
	candles, err := cli.collector.GetOHLCV(ctx, flags.Exchange, flags.Symbol, flags.Interval,
		flags.Start, flags.End, flags.Futures, flags.Params)
	if err != nil {
		return err
	}

	switch flags.Format {
	case "json":
		return outputJSON(candles)
	case "csv":
		fmt.Println("timestamp,open,high,low,close,volume")
		for _, c := range candles {
			fmt.Printf("%s,%g,%g,%g,%g,%g\n", c.Timestamp.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
		}
		return nil
	}

	rows := make([][]float64, len(candles))
	stamps := make([]time.Time, len(candles))
	for i, c := range candles {
		stamps[i] = c.Timestamp
		rows[i] = []float64{c.Open, c.High, c.Low, c.Close, c.Volume}
	}
	return outputTable(models.CandleColumns, stamps, rows, flags.Limit)
}

func (cli *CLI) handleLevels(ctx context.Context, command string, flags *Flags) error {
	if err := requireFlags(flags, "exchange", "symbol", "interval", "start", "end"); err != nil {
		return err
	}

	fetch := cli.collector.GetOpenInterestOHLC
	if command == "funding" {
		fetch = cli.collector.GetFundingRateOHLC
	}
	series, err := fetch(ctx, flags.Exchange, flags.Symbol, flags.Interval, flags.Start, flags.End)
	if err != nil {
		return err
	}

	if flags.Format == "json" {
		return outputJSON(series.Records)
	}

	rows := make([][]float64, len(series.Records))
	stamps := make([]time.Time, len(series.Records))
	for i, r := range series.Records {
		stamps[i] = r.Timestamp
		rows[i] = []float64{r.Open, r.High, r.Low, r.Close}
	}
	if flags.Format == "csv" {
		return outputCSV(series.Columns(), stamps, rows)
	}
	return outputTable(series.Columns(), stamps, rows, flags.Limit)
}

func (cli *CLI) handleSearch(flags *Flags) error {
	if err := requireFlags(flags, "exchange"); err != nil {
		return err
	}
	instruments := cli.collector.SearchInstruments(flags.Exchange, flags.Query)
	if flags.Format == "json" {
		return outputJSON(instruments)
	}
	for _, inst := range instruments {
		fmt.Printf("%-24s %-8s %-8s\n", inst.ID, inst.BaseAsset, inst.QuoteAsset)
	}
	fmt.Fprintf(os.Stderr, "%d instruments\n", len(instruments))
	return nil
}

func (cli *CLI) handleMarkets(ctx context.Context, flags *Flags) error {
	if err := requireFlags(flags, "exchange"); err != nil {
		return err
	}
	markets, err := cli.collector.SearchMarkets(ctx, flags.Exchange, flags.Futures, flags.Query)
	if err != nil {
		return err
	}
	if flags.Format == "json" {
		return outputJSON(markets)
	}
	for _, m := range markets {
		fmt.Printf("%-24s %-8s %-8s %s\n", m.Symbol, m.BaseAsset, m.QuoteAsset, m.Status)
	}
	fmt.Fprintf(os.Stderr, "%d markets\n", len(markets))
	return nil
}

// handleQuery reads a stored aligned series.
func (cli *CLI) handleQuery(ctx context.Context, flags *Flags) error {
	if err := requireFlags(flags, "exchange", "symbol", "interval", "start", "end"); err != nil {
		return err
	}
	series, err := cli.collector.LoadStored(ctx, flags.Exchange, flags.Symbol, flags.Interval, flags.Start, flags.End)
	if err != nil {
		return err
	}
	return outputAligned(series, flags.Format, flags.Limit)
}

// parseFlags parses command line arguments shared by all commands.
func parseFlags(args []string) (*Flags, error) {
	flags := &Flags{
		Format: "table",
		Limit:  100,
		Params: make(map[string]string),
	}

	value := func(i int) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", args[i])
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--exchange", "-x":
			flags.Exchange, err = value(i)
			i++
		case "--symbol", "-s":
			flags.Symbol, err = value(i)
			i++
		case "--metadata-symbol", "-m":
			flags.MetadataSymbol, err = value(i)
			i++
		case "--interval", "-i":
			flags.Interval, err = value(i)
			i++
		case "--start":
			flags.Start, err = value(i)
			i++
		case "--end":
			flags.End, err = value(i)
			i++
		case "--query", "-q":
			flags.Query, err = value(i)
			i++
		case "--format", "-f":
			flags.Format, err = value(i)
			i++
		case "--limit", "-l":
			var v string
			if v, err = value(i); err == nil {
				if flags.Limit, err = strconv.Atoi(v); err != nil {
					err = fmt.Errorf("invalid limit value: %w", err)
				}
			}
			i++
		case "--param", "-p":
			var v string
			if v, err = value(i); err == nil {
				k, val, ok := strings.Cut(v, "=")
				if !ok || k == "" {
					err = fmt.Errorf("--param expects key=value, got %q", v)
				}
				flags.Params[k] = val
			}
			i++
		case "--futures":
			flags.Futures = true
		case "--export":
			flags.Export = true
		case "--help", "-h":
			flags.Help = true
		default:
			err = fmt.Errorf("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}

	switch flags.Format {
	case "table", "json", "csv":
	default:
		return nil, fmt.Errorf("unknown format %q, use table, json or csv", flags.Format)
	}
	return flags, nil
}

func requireFlags(flags *Flags, names ...string) error {
	values := map[string]string{
		"exchange": flags.Exchange,
		"symbol":   flags.Symbol,
		"interval": flags.Interval,
		"start":    flags.Start,
		"end":      flags.End,
	}
	for _, name := range names {
		if values[name] == "" {
			return fmt.Errorf("--%s is required", name)
		}
	}
	return nil
}

// Output formatting functions

func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func outputAligned(series *models.AlignedSeries, format string, limit int) error {
	if format == "json" {
		return outputJSON(series.Rows())
	}

	rows := make([][]float64, 0, series.Len())
	for _, row := range series.Rows() {
		rows = append(rows, row.Values())
	}
	if format == "csv" {
		return outputCSV(series.Columns(), series.Timestamps(), rows)
	}
	return outputTable(series.Columns(), series.Timestamps(), rows, limit)
}

func outputCSV(columns []string, stamps []time.Time, rows [][]float64) error {
	fmt.Println("timestamp," + strings.Join(columns, ","))
	for i, row := range rows {
		fields := make([]string, len(row))
		for j, v := range row {
			fields[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		fmt.Println(stamps[i].Format(time.RFC3339) + "," + strings.Join(fields, ","))
	}
	return nil
}

func outputTable(columns []string, stamps []time.Time, rows [][]float64, limit int) error {
	total := len(rows)
	if limit > 0 && total > limit {
		rows = rows[:limit]
	}

	fmt.Printf("%-17s", "Timestamp")
	for _, col := range columns {
		fmt.Printf(" %-12s", col)
	}
	fmt.Println()
	fmt.Println(strings.Repeat("-", 17+13*len(columns)))

	for i, row := range rows {
		fmt.Printf("%-17s", stamps[i].Format("2006-01-02 15:04"))
		for _, v := range row {
			fmt.Printf(" %-12s", truncate(strconv.FormatFloat(v, 'g', 8, 64), 12))
		}
		fmt.Println()
	}

	if limit > 0 && total > limit {
		fmt.Printf("\n... showing first %d of %d rows (use --limit 0 to see all)\n", limit, total)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Help and usage functions

func printUsage() {
	fmt.Printf(`%s - derivatives series collector v%s

USAGE:
    %s <command> [options]

COMMANDS:
    all         Collect candles, open interest and funding rate, aligned on timestamp
    candles     Collect exchange candles only
    oi          Collect the open interest OHLC history
    funding     Collect the funding rate OHLC history
    search      Search the instruments CoinGlass lists for an exchange
    markets     Search the markets an exchange lists itself
    query       Read a stored aligned series

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Hourly aligned series for January 2024
    %s all --exchange Binance --symbol BTCUSDT --interval 1h --start 01.01.2024 --end 31.01.2024

    # Daily OKX swap candles as CSV
    %s candles --exchange OKX --symbol BTC-USDT-SWAP --interval 1d --start 01.01.2024 --end 31.01.2024 --format csv

CONFIGURATION:
    Configuration is read from %s (override with DERIVS_CONFIG), then from
    the environment. A .env file in the working directory is loaded first.
    COINGLASS_API_KEY is required.

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, ConfigFile, AppName)
}

func printCommandHelp(command string) {
	switch command {
	case "all":
		fmt.Printf(`%s all - Collect an aligned series

USAGE:
    %s all [options]

OPTIONS:
    --exchange, -x <name>         Exchange name as listed by CoinGlass (required)
                                  Binance, Bybit, Bitget, Bitmex, Deribit, Huobi, Kraken, KuCoin, OKX
    --symbol, -s <symbol>         Exchange trading symbol (required)
    --metadata-symbol, -m <id>    CoinGlass instrument id (default: --symbol)
    --interval, -i <interval>     Bar interval: 1m, 5m, 1h, 4h, 1d, 1w, ... (required)
    --start <DD.MM.YYYY>          Window start (required)
    --end <DD.MM.YYYY>            Window end (required)
    --futures                     Use the exchange's futures market where it has one
    --param, -p <key=value>       Exchange request parameter, repeatable
    --format, -f <format>         table, json or csv (default: table)
    --limit, -l <n>               Table rows to print, 0 for all (default: 100)
    --export                      Write the series as parquet per the export config

NOTES:
    - Transient upstream failures are retried; press Ctrl+C to stop
    - Rows missing any of the three series are dropped
    - The series is saved when a store is configured
`, AppName, AppName)

	case "candles", "oi", "funding", "query":
		fmt.Printf(`%s %s

USAGE:
    %s %s --exchange <name> --symbol <symbol> --interval <interval> --start <DD.MM.YYYY> --end <DD.MM.YYYY> [options]

OPTIONS:
    --futures                     Use the futures market (candles only)
    --param, -p <key=value>       Exchange request parameter (candles only)
    --format, -f <format>         table, json or csv (default: table)
    --limit, -l <n>               Table rows to print, 0 for all (default: 100)
`, AppName, command, AppName, command)

	case "search", "markets":
		fmt.Printf(`%s %s

USAGE:
    %s %s --exchange <name> [--query <fragment>] [--futures] [--format json]

NOTES:
    - Matching is a case-insensitive substring match
    - markets is only available for exchanges that can list markets
`, AppName, command, AppName, command)

	default:
		fmt.Fprintf(os.Stderr, "No help available for command: %s\n", command)
		printUsage()
	}
}
