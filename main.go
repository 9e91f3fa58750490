package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	humanize "github.com/dustin/go-humanize"

	"sondetrack/aprs"
	"sondetrack/config"
	"sondetrack/decode"
	"sondetrack/habitat"
	"sondetrack/mqttpub"
	"sondetrack/ozi"
	"sondetrack/push"
	"sondetrack/scan"
	"sondetrack/search"
	"sondetrack/telemetry"
)

// Version is the release version reported at startup.
const Version = "1.0.0"

const (
	// capturePath is where the band scan tool writes its power capture.
	capturePath = "log_power.csv"
	// auxDataDir caches downloaded GPS ephemeris and almanac files.
	auxDataDir = "auxdata"
	// positionsFile collects one flight summary per completed run.
	positionsFile = "last_positions.txt"
	// dedupeWindow bounds how long a frame signature suppresses repeats.
	dedupeWindow = 2 * time.Minute
)

// sessionCooldown is how long the SDR rests between decode sessions and
// after an empty search pass; shortened by tests.
var sessionCooldown = 10 * time.Second

func main() {
	configPath := flag.String("c", "station.yaml", "station configuration file")
	fixedFreqMHz := flag.Float64("f", 0, "skip the band search and decode this frequency (MHz)")
	timeoutMinutes := flag.Int("t", 0, "stop after this many minutes (0 runs until interrupted)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	start := time.Now()
	fanout, logErr := setupLogging(cfg.Logging, os.Stdout, start)
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()
	if logErr != nil {
		log.Printf("Warning: file logging unavailable: %v", logErr)
	}

	log.Printf("Radiosonde tracker v%s starting (config %s)", Version, cfg.LoadedFrom)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *timeoutMinutes > 0 {
		deadline := time.Duration(*timeoutMinutes) * time.Minute
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
		log.Printf("Run limited to %d minute(s)", *timeoutMinutes)
	}

	// Purpose: Translate Ctrl+C / SIGTERM into context cancellation.
	// Key aspects: Cancellation tears down the decode process group and the
	// push workers; a second signal is left to the default handler.
	// Upstream: OS signal delivery.
	// Downstream: context cancel.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, shutting down", sig)
		cancel()
		signal.Stop(sigChan)
	}()

	tuner := scan.TunerParams{
		PPM:  cfg.SDR.PPM,
		Gain: cfg.SDR.NormalizedGain(),
		Bias: cfg.SDR.Bias,
	}

	internetSinks, closeSinks := buildInternetSinks(cfg)
	defer closeSinks()
	localSinks := buildLocalSinks(cfg)

	internetQueue := push.NewQueue(16)
	localQueue := push.NewQueue(16)

	var workers []*push.Worker
	if len(internetSinks) > 0 {
		w := push.NewWorker("internet", internetQueue, internetSinks,
			time.Duration(cfg.Upload.RateSeconds)*time.Second, cfg.Upload.Synchronous)
		w.Start()
		workers = append(workers, w)
	}
	if len(localSinks) > 0 {
		w := push.NewWorker("local", localQueue, localSinks,
			time.Duration(cfg.Ozi.UpdateRateSeconds)*time.Second, false)
		w.Start()
		workers = append(workers, w)
	}
	defer func() {
		for _, w := range workers {
			w.Stop()
		}
	}()

	announceListener(cfg)

	stats := &telemetry.Stats{}
	deduper := telemetry.NewDeduper(dedupeWindow)
	consume := func(rec *telemetry.Record) {
		stats.Observe(rec)
		if !deduper.ShouldForward(rec, time.Now()) {
			return
		}
		internetQueue.Offer(rec)
		localQueue.Offer(rec)
	}

	supervisor := decode.NewSupervisor(decode.Config{
		LivenessTimeout: time.Duration(cfg.Decode.RXTimeoutSeconds) * time.Second,
		Tuner:           tuner,
	}, decode.NewAuxResolver(auxDataDir), consume)

	scanner := scan.NewScanner(capturePath)
	detector := scan.NewDetector(tuner)
	searcher := search.New(searchConfig(cfg, tuner), scanner, detector)

	runSessions(ctx, *fixedFreqMHz, searcher, detector, supervisor)

	writeFlightSummary(stats, positionsFile)
	log.Println("Shutdown complete")
}

// runSessions is the acquisition loop: find a sonde, decode it until the
// session dies, rest, repeat. A quiet band never ends the run; an exhausted
// search pass just rests and scans again. The context deadline (or a signal)
// is the only way out.
func runSessions(ctx context.Context, fixedFreqMHz float64,
	searcher *search.Searcher, detector *scan.Detector, supervisor *decode.Supervisor) {

	for ctx.Err() == nil {
		freqHz, sondeType, ok := acquire(ctx, fixedFreqMHz, searcher, detector)
		if !ok {
			if !coolDown(ctx) {
				return
			}
			continue
		}

		log.Printf("Decoding %s on %s Hz", sondeType, humanize.Comma(freqHz))
		if err := supervisor.Run(ctx, freqHz, sondeType); err != nil {
			log.Printf("Decode session ended: %v", err)
		} else {
			log.Printf("Decode session ended")
		}

		if !coolDown(ctx) {
			return
		}
	}
}

// acquire yields the next frequency to decode. A fixed frequency bypasses
// the band scan but is still probed, so a dead channel does not spin the
// decoder forever.
func acquire(ctx context.Context, fixedFreqMHz float64,
	searcher *search.Searcher, detector *scan.Detector) (int64, telemetry.SondeType, bool) {

	if fixedFreqMHz > 0 {
		freqHz := mhzToHz(fixedFreqMHz)
		sondeType, ok := detector.Detect(ctx, freqHz)
		if !ok {
			log.Printf("No sonde detected on fixed frequency %.3f MHz", fixedFreqMHz)
			return 0, "", false
		}
		return freqHz, sondeType, true
	}

	result, ok := searcher.Run(ctx)
	if !ok {
		return 0, "", false
	}
	return result.FrequencyHz, result.Type, true
}

func coolDown(ctx context.Context) bool {
	timer := time.NewTimer(sessionCooldown)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func searchConfig(cfg *config.Config, tuner scan.TunerParams) search.Config {
	return search.Config{
		MinFreqHz:      mhzToHz(cfg.Search.MinFreqMHz),
		MaxFreqHz:      mhzToHz(cfg.Search.MaxFreqMHz),
		StepHz:         cfg.Search.StepHz,
		Dwell:          time.Duration(cfg.Search.DwellSeconds) * time.Second,
		MinSNRdB:       cfg.Search.MinSNR,
		MinDistanceHz:  float64(cfg.Search.MinDistanceHz),
		QuantizationHz: float64(cfg.Search.QuantizationHz),
		Attempts:       cfg.Search.Attempts,
		Delay:          time.Duration(cfg.Search.DelaySeconds) * time.Second,
		Tuner:          tuner,
	}
}

// buildInternetSinks assembles the enabled internet upload sinks. The
// returned closer shuts down connections owned by the sinks.
func buildInternetSinks(cfg *config.Config) ([]push.Sink, func()) {
	var sinks []push.Sink
	closer := func() {}

	if cfg.APRS.Enabled {
		sinks = append(sinks, aprs.NewClient(cfg.APRS.Server, cfg.APRS.Port,
			cfg.APRS.User, cfg.APRS.Pass, cfg.APRS.ObjectID, cfg.APRS.CustomComment))
		log.Printf("APRS-IS upload enabled (%s:%d)", cfg.APRS.Server, cfg.APRS.Port)
	}
	if cfg.Habitat.Enabled {
		sinks = append(sinks, habitat.NewClient(cfg.Habitat.URL,
			cfg.Habitat.PayloadCallsign, cfg.Habitat.UploaderCallsign))
		log.Printf("Habitat upload enabled (%s)", cfg.Habitat.URL)
	}
	if cfg.MQTT.Enabled {
		pub := mqttpub.NewPublisher(cfg.MQTT.Broker, cfg.MQTT.Port, cfg.MQTT.Topic)
		if err := pub.Connect(); err != nil {
			log.Printf("Warning: MQTT publishing disabled: %v", err)
		} else {
			sinks = append(sinks, pub)
			closer = pub.Disconnect
		}
	}
	return sinks, closer
}

func buildLocalSinks(cfg *config.Config) []push.Sink {
	var sinks []push.Sink
	if cfg.Ozi.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Ozi.Hostname, cfg.Ozi.Port)
		sinks = append(sinks, &ozi.Client{Addr: addr})
		log.Printf("OziPlotter output enabled (%s)", addr)
	}
	if cfg.Ozi.PayloadSummaryEnabled {
		sinks = append(sinks, ozi.NewSummaryBroadcaster(cfg.Ozi.PayloadSummaryPort))
		log.Printf("Payload summary broadcast enabled (port %d)", cfg.Ozi.PayloadSummaryPort)
	}
	return sinks
}

// announceListener puts the receive station on the map once at startup.
// Failures are cosmetic and only logged.
func announceListener(cfg *config.Config) {
	if !cfg.Habitat.Enabled {
		return
	}
	if cfg.Habitat.UploaderLat == 0 && cfg.Habitat.UploaderLon == 0 {
		return
	}
	client := habitat.NewClient(cfg.Habitat.URL, cfg.Habitat.PayloadCallsign, cfg.Habitat.UploaderCallsign)
	if err := client.UploadListenerPosition(cfg.Habitat.UploaderLat, cfg.Habitat.UploaderLon); err != nil {
		log.Printf("Warning: listener position upload failed: %v", err)
	} else {
		log.Printf("Listener position uploaded for %s", cfg.Habitat.UploaderCallsign)
	}
}

// writeFlightSummary logs the flight report and appends it to the positions
// file so summaries survive across runs.
func writeFlightSummary(stats *telemetry.Stats, path string) {
	summary, err := stats.Summary()
	if err != nil {
		log.Printf("No telemetry received this run")
		return
	}
	log.Print(summary)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("Warning: cannot append to %s: %v", path, err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(summary + "\n"); err != nil {
		log.Printf("Warning: write to %s failed: %v", path, err)
	}
}

func mhzToHz(mhz float64) int64 {
	return int64(math.Round(mhz * 1e6))
}
