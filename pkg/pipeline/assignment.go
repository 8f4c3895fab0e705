package pipeline

import (
	"errors"
	"sort"

	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/provider"
)

// ErrNoCapableProvider is returned when no enabled provider can handle a
// message's type. The director treats this as a per-message delivery failure,
// never as a cycle fault.
var ErrNoCapableProvider = errors.New("no capable provider")

// SelectProvider chooses a provider for the message from the available
// descriptors:
//
//  1. An explicit preference wins when that provider is enabled and capable
//     of the message's type.
//  2. Otherwise the candidates are the enabled descriptors capable of the
//     message's type.
//  3. Ties break on the lexicographically smallest name, so repeated cycles
//     assign reproducibly. Load-based balancing is explicitly not a goal.
func SelectProvider(msg courier.Message, available []provider.Descriptor) (provider.Descriptor, error) {
	if msg.PreferredProvider != "" {
		for _, d := range available {
			if d.Name == msg.PreferredProvider && d.Enabled && d.Capable(msg.Type) {
				return d, nil
			}
		}
		// An unusable preference falls through to the general selection.
	}

	var candidates []provider.Descriptor
	for _, d := range available {
		if d.Enabled && d.Capable(msg.Type) {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return provider.Descriptor{}, ErrNoCapableProvider
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	return candidates[0], nil
}
