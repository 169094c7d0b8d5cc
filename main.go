package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"argon-gpu-miner/argon"
	"argon-gpu-miner/gpu"
	"argon-gpu-miner/log"
	"argon-gpu-miner/pool"
	"argon-gpu-miner/util"

	"github.com/TwiN/go-color"
)

const VERSION = "1.0.0"

func main() {
	algorithm := ""
	loginResponse := ""
	benchmark := uint(0)
	niceHash := false
	debug := false
	save := false

	flag.StringVar(&algorithm, "algorithm", "", "hashing algorithm, possible values: chukwa, chukwa_wrkz")
	flag.StringVar(&loginResponse, "login-response", "", "file holding a pool login response to mine its job")
	flag.UintVar(&benchmark, "benchmark", 0, "mine a local job for this many seconds, 0 mines until interrupted")
	flag.BoolVar(&niceHash, "nicehash", false, "true if the pool owns the high byte of the nonce")
	flag.BoolVar(&debug, "debug", false, "true if you want to make logs verbose")
	flag.BoolVar(&save, "save-config", false, "force saving the config to a json file")
	flag.Parse()

	if debug || Cfg.Debug {
		log.Info("debug mode ON")
		Cfg.Debug = true
		log.LogLevel = 2
	}
	if algorithm != "" {
		Cfg.Algorithm = algorithm
	}
	if niceHash {
		Cfg.NiceHash = true
	}
	if benchmark != 0 {
		Cfg.BenchmarkSeconds = uint32(benchmark)
	}
	if save {
		saveCfg()
	}

	log.Title("")
	log.Title(color.InBold("ARGON-GPU-MINER v" + VERSION))
	log.Title(color.Ize(color.Purple, "Chukwa and Chukwa-Wrkz miner"))
	log.Title("")
	log.Title(color.Cyan+"OS:", runtime.GOOS, "arch:", runtime.GOARCH, "threads:", runtime.NumCPU())
	log.Title(color.Reset + "")

	if _, err := argon.Lookup(Cfg.Algorithm); err != nil {
		log.Err(err)
		os.Exit(1)
	}

	hw, err := gpu.NewHardwareConfig(fillDeviceMemory(Cfg.Devices))
	if err != nil {
		log.Err("invalid device configuration:", err)
		os.Exit(1)
	}
	for _, d := range hw.Enabled() {
		log.Infof("Device %s: %d MiB, intensity %.0f", gpu.Label(d), d.MemoryMiB, d.Intensity)
	}

	loginID, job, err := loadJob(loginResponse)
	if err != nil {
		log.Err(err)
		os.Exit(1)
	}
	job = job.WithPool(Cfg.Algorithm, Cfg.NiceHash)
	log.Infof("Mining job %s (%s), difficulty %d", job.JobID, job.Algorithm, job.ShareDifficulty)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if Cfg.BenchmarkSeconds != 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(Cfg.BenchmarkSeconds)*time.Second)
		defer cancel()
	}

	tracker := pool.NewShareTracker(time.Duration(Cfg.ShareTimeout)*time.Second, 64)
	counter := NewHashCounter()
	go newLocalPool(loginID, job).serve(tracker)

	miner := gpu.NewMiner(hw, gpu.EmulatedDriver{}, tracker.Submit, counter.Increment)

	start := util.RandomUint32()
	if err := miner.Start(job, start); err != nil {
		log.Err("failed to start mining:", err)
		os.Exit(1)
	}

	counter.Run(ctx, time.Duration(Cfg.HashrateInterval)*time.Second)
	miner.Stop()

	for label, err := range miner.Faulted() {
		log.Errf("Device %s stopped: %v", label, err)
	}

	stats := tracker.Stats()
	log.Title("")
	for _, d := range hw.Enabled() {
		log.Title(gpu.Label(d)+":", counter.Total(gpu.Label(d)), "hashes")
	}
	log.Title(color.Ize(color.Green, "accepted:"), stats.Accepted,
		color.Ize(color.Red, "rejected:"), stats.Rejected,
		"expired:", stats.Expired, "dropped:", stats.Dropped)
}

// loadJob reads the job from a saved login response, or makes a benchmark job
// when there is none.
func loadJob(loginResponse string) (string, pool.Job, error) {
	if loginResponse == "" {
		return "benchmark", benchmarkJob(Cfg.Algorithm, Cfg.BenchmarkDifficulty, util.RandomUint32()), nil
	}

	data, err := os.ReadFile(loginResponse)
	if err != nil {
		return "", pool.Job{}, err
	}

	msg, err := pool.ParseLoginMessage(data)
	if err != nil {
		return "", pool.Job{}, err
	}
	if msg.Error != nil {
		return "", pool.Job{}, msg.Error
	}

	login, _ := msg.Login()
	return login.LoginID, login.Job, nil
}

// fillDeviceMemory splits the available host memory between devices that do
// not configure theirs.
func fillDeviceMemory(devices []gpu.Device) []gpu.Device {
	unset := 0
	for _, d := range devices {
		if d.Enabled && d.MemoryMiB == 0 {
			unset++
		}
	}
	if unset == 0 {
		return devices
	}

	available, err := gpu.DetectMemoryMiB()
	if err != nil {
		log.Warn("failed to detect available memory:", err)
		available = 1024
	}

	// leave half of it to the system
	share := available / 2 / uint64(unset)

	out := make([]gpu.Device, len(devices))
	copy(out, devices)
	for i := range out {
		if out[i].Enabled && out[i].MemoryMiB == 0 {
			out[i].MemoryMiB = share
		}
	}
	return out
}
