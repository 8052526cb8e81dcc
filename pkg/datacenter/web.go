package datacenter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Layr-Labs/ballast/pkg/types"
	"go.uber.org/zap"
)

// WebConfig holds the configuration for the concentration listing service.
type WebConfig struct {
	// BaseURL is the base URL of the listing service
	BaseURL string
	// Token is sent as the Token header on every request
	Token string
	// Cluster selects which cluster's listing to fetch (e.g., "mainnet")
	Cluster string
	// Timeout is the maximum duration for HTTP requests
	Timeout time.Duration
}

// WebProvider fetches a per-validator stake listing from an HTTP service and
// aggregates it into per-datacenter concentration figures.
type WebProvider struct {
	logger     *zap.Logger
	config     *WebConfig
	httpClient *http.Client
}

func NewWebProvider(cfg *WebConfig, logger *zap.Logger) (*WebProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("cfg.BaseURL cannot be empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WebProvider{
		logger: logger,
		config: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// validatorEntry is one row of the listing service response.
type validatorEntry struct {
	Identity    string `json:"identity"`
	DataCenter  string `json:"data_center"`
	ActiveStake uint64 `json:"active_stake"`
}

type dataCenterTally struct {
	stake      uint64
	validators []types.Identity
}

// Concentrations fetches the cluster listing and returns, for every validator
// with an attributable datacenter, the share of total cluster stake hosted in
// that datacenter. Stake from rows without a datacenter still counts toward
// the cluster total, so percentages are over all active stake rather than
// only the attributable portion.
func (p *WebProvider) Concentrations(ctx context.Context) (map[types.Identity]Concentration, error) {
	url := fmt.Sprintf("%s/v1/validators/%s.json", strings.TrimSuffix(p.config.BaseURL, "/"), p.config.Cluster)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.config.Token != "" {
		req.Header.Set("Token", p.config.Token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch validator listing: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("validator listing request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var entries []validatorEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode validator listing: %w", err)
	}

	var totalStake uint64
	tallies := map[string]*dataCenterTally{}
	for _, entry := range entries {
		totalStake += entry.ActiveStake
		if entry.DataCenter == "" {
			continue
		}
		tally, ok := tallies[entry.DataCenter]
		if !ok {
			tally = &dataCenterTally{}
			tallies[entry.DataCenter] = tally
		}
		tally.stake += entry.ActiveStake
		if identity, err := types.ParseIdentity(entry.Identity); err == nil {
			tally.validators = append(tally.validators, identity)
		}
	}

	concentrations := make(map[types.Identity]Concentration)
	if totalStake == 0 {
		return concentrations, nil
	}
	for dataCenter, tally := range tallies {
		stakePercent := float64(tally.stake) * 100 / float64(totalStake)
		for _, identity := range tally.validators {
			concentrations[identity] = Concentration{
				DataCenter:   dataCenter,
				StakePercent: stakePercent,
			}
		}
	}

	p.logger.Sugar().Debugw("fetched infrastructure concentrations",
		"entries", len(entries),
		"dataCenters", len(tallies),
		"attributedValidators", len(concentrations),
	)
	return concentrations, nil
}
