// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package workloadtest

import (
	"github.com/juju/collections/set"

	"github.com/canonical/livepatch-k8s-operator/internal/workload"
)

func sortedLabels(layers map[string]*workload.Layer) []string {
	labels := set.NewStrings()
	for label := range layers {
		labels.Add(label)
	}
	return labels.SortedValues()
}
