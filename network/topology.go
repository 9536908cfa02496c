package network

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Edge is a directed (sender, receiver) pair used to restrict the topology.
type Edge struct {
	Sender   string
	Receiver string
}

// LoadTopologyFile reads a topology file: each non-empty, non-comment line
// is "sender,receiver". Mirrors original_source's
// load_topology_from_file byte-for-byte in accepted syntax.
func LoadTopologyFile(path string) ([]Edge, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("network: open topology file: %w", err)
	}
	defer f.Close()

	var edges []Edge
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			continue
		}
		edges = append(edges, Edge{
			Sender:   strings.TrimSpace(parts[0]),
			Receiver: strings.TrimSpace(parts[1]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("network: read topology file: %w", err)
	}
	return edges, nil
}

// LoadLinkProfileFile reads per-link overrides: lines of
// "sender,receiver,base_delay_ms,jitter_ms,bandwidth_bytes_per_ms,drop_rate",
// trailing fields optional. Missing trailing fields fall back to the
// simulator's global Config, mirroring original_source's
// load_link_profile_from_file.
func LoadLinkProfileFile(path string) (map[Edge]LinkProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("network: open link profile file: %w", err)
	}
	defer f.Close()

	profiles := make(map[Edge]LinkProfile)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) < 2 {
			continue
		}
		edge := Edge{Sender: parts[0], Receiver: parts[1]}
		var prof LinkProfile
		if len(parts) > 2 && parts[2] != "" {
			v, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, fmt.Errorf("network: link profile base_delay_ms: %w", err)
			}
			prof.BaseDelayMs, prof.HasBaseDelay = v, true
		}
		if len(parts) > 3 && parts[3] != "" {
			v, err := strconv.Atoi(parts[3])
			if err != nil {
				return nil, fmt.Errorf("network: link profile jitter_ms: %w", err)
			}
			prof.JitterMs, prof.HasJitter = v, true
		}
		if len(parts) > 4 && parts[4] != "" {
			v, err := strconv.Atoi(parts[4])
			if err != nil {
				return nil, fmt.Errorf("network: link profile bandwidth_bytes_per_ms: %w", err)
			}
			prof.BandwidthBytesPerMs, prof.HasBandwidth = v, true
		}
		if len(parts) > 5 && parts[5] != "" {
			v, err := strconv.ParseFloat(parts[5], 64)
			if err != nil {
				return nil, fmt.Errorf("network: link profile drop_rate: %w", err)
			}
			prof.DropRate, prof.HasDropRate = v, true
		}
		profiles[edge] = prof
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("network: read link profile file: %w", err)
	}
	return profiles, nil
}
