package registry

import (
	"sort"
	"strings"

	"go-backend/internal/apperrors"
	"go-backend/internal/config"
)

// ChainDescriptor is the immutable runtime view of one participating chain.
type ChainDescriptor struct {
	Key                 string `json:"key"`
	NativeChainID       uint64 `json:"native_chain_id"`
	BridgeEndpointID    uint32 `json:"bridge_endpoint_id"`
	Role                string `json:"role"`
	ExplorerURLTemplate string `json:"explorer_url_template"`
}

// ChainRegistry resolves chain keys to descriptors. It is constructed once
// from configuration and read-only afterwards, so lookups need no locking.
type ChainRegistry struct {
	byKey      map[string]*ChainDescriptor
	byEndpoint map[uint32]*ChainDescriptor
	hubKey     string
}

// NewChainRegistry builds the registry from configuration.
func NewChainRegistry(cfg *config.Config) *ChainRegistry {
	r := &ChainRegistry{
		byKey:      make(map[string]*ChainDescriptor, len(cfg.Chains)),
		byEndpoint: make(map[uint32]*ChainDescriptor, len(cfg.Chains)),
		hubKey:     cfg.HubChain,
	}
	for key, chain := range cfg.Chains {
		desc := &ChainDescriptor{
			Key:                 key,
			NativeChainID:       chain.NativeChainID,
			BridgeEndpointID:    chain.BridgeEndpointID,
			Role:                chain.Role,
			ExplorerURLTemplate: chain.ExplorerURLTemplate,
		}
		r.byKey[key] = desc
		r.byEndpoint[chain.BridgeEndpointID] = desc
		if r.hubKey == "" && chain.Role == "hub" {
			r.hubKey = key
		}
	}
	return r
}

// Describe resolves a chain by its symbolic key.
func (r *ChainRegistry) Describe(chainKey string) (*ChainDescriptor, error) {
	desc, ok := r.byKey[chainKey]
	if !ok {
		return nil, apperrors.New(apperrors.KindUnknownChain, "chain %q is not registered", chainKey)
	}
	return desc, nil
}

// DescribeByEndpoint resolves a chain by its bridge endpoint id.
func (r *ChainRegistry) DescribeByEndpoint(endpointID uint32) (*ChainDescriptor, bool) {
	desc, ok := r.byEndpoint[endpointID]
	return desc, ok
}

// Hub returns the configured hub chain descriptor.
func (r *ChainRegistry) Hub() (*ChainDescriptor, error) {
	if r.hubKey == "" {
		return nil, apperrors.New(apperrors.KindUnknownChain, "no hub chain configured")
	}
	return r.Describe(r.hubKey)
}

// All returns every registered chain, sorted by key for deterministic output.
func (r *ChainRegistry) All() []*ChainDescriptor {
	chains := make([]*ChainDescriptor, 0, len(r.byKey))
	for _, desc := range r.byKey {
		chains = append(chains, desc)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].Key < chains[j].Key })
	return chains
}

// ExplorerTxURL renders the chain's explorer template for a transaction hash.
// Returns an empty string when the chain has no explorer configured.
func (r *ChainRegistry) ExplorerTxURL(chainKey, txHash string) string {
	desc, ok := r.byKey[chainKey]
	if !ok || desc.ExplorerURLTemplate == "" {
		return ""
	}
	return strings.ReplaceAll(desc.ExplorerURLTemplate, "{txHash}", txHash)
}
