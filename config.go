package main

import (
	"encoding/json"
	"os"

	"argon-gpu-miner/gpu"
	"argon-gpu-miner/log"
)

type Config struct {
	Algorithm           string       `json:"algorithm"`
	NiceHash            bool         `json:"nicehash"`
	Debug               bool         `json:"debug"`
	BenchmarkSeconds    uint32       `json:"benchmark_seconds"`
	BenchmarkDifficulty uint64       `json:"benchmark_difficulty"`
	HashrateInterval    uint32       `json:"hashrate_interval"`
	ShareTimeout        uint32       `json:"share_timeout"`
	Devices             []gpu.Device `json:"devices"`
}

var Cfg = Config{
	Algorithm:           "chukwa",
	NiceHash:            false,
	Debug:               false,
	BenchmarkSeconds:    0,
	BenchmarkDifficulty: 2000,
	HashrateInterval:    10,
	ShareTimeout:        30,
	Devices: []gpu.Device{
		{ID: 0, Name: "emulated", Enabled: true, MaxNonces: 16},
	},
}

func init() {
	loadCfg()
}

func loadCfg() {
	data, err := os.ReadFile(path() + "/config.json")

	if err != nil {
		log.Warn("failed to open configuration:", err)
		saveCfg()
		return
	}

	err = json.Unmarshal(data, &Cfg)

	if err != nil {
		log.Warn("failed to decode configuration:", err)
		return
	}
}

func saveCfg() {
	data, err := json.MarshalIndent(Cfg, "", "\t")
	if err != nil {
		log.Fatal(err)
	}

	err = os.WriteFile(path()+"/config.json", data, 0o666)
	if err != nil {
		log.Err(err)
	}
}

func path() string {
	return "."
}
