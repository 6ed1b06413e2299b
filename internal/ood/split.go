package ood

import (
	"fmt"
	"math/rand"
	"sort"
)

// DefaultTrainRatio is the default fraction of items assigned to TRAIN.
const DefaultTrainRatio = 0.90

// Partition is the result of a train/test split. Splitters return a new
// Partition rather than mutating a shared item list; the items
// themselves are stamped with their Purpose exactly once.
type Partition struct {
	Train []*DistributionDataItem
	Test  []*DistributionDataItem
}

func (p Partition) stamp() {
	for _, item := range p.Train {
		item.Purpose = PurposeTrain
	}
	for _, item := range p.Test {
		item.Purpose = PurposeTest
	}
}

// StratifiedSplit partitions items by annotated label so every class
// keeps at least one TRAIN member, and every class with two or more
// members keeps at least one TEST member. Within each class the TRAIN
// count is int(ratio*n) clamped to those guarantees, so the overall
// TRAIN fraction is within one sample per class of the ratio. A class
// with a single member goes entirely to TRAIN.
//
// The rng drives the per-class shuffle; pass a seeded source for
// reproducible splits.
func StratifiedSplit(items []*DistributionDataItem, ratio float64, rng *rand.Rand) (Partition, error) {
	if err := checkRatio(ratio); err != nil {
		return Partition{}, err
	}
	if len(items) == 0 {
		return Partition{}, fmt.Errorf("no items to split")
	}

	byClass := make(map[string][]*DistributionDataItem)
	for _, item := range items {
		byClass[item.AnnotatedLabel] = append(byClass[item.AnnotatedLabel], item)
	}

	// Deterministic class order so the same seed always yields the
	// same partition.
	classes := make([]string, 0, len(byClass))
	for label := range byClass {
		classes = append(classes, label)
	}
	sort.Strings(classes)

	var part Partition
	for _, label := range classes {
		members := byClass[label]
		n := len(members)

		order := rng.Perm(n)
		nTrain := int(ratio * float64(n))
		if nTrain < 1 {
			nTrain = 1
		}
		if n >= 2 && nTrain >= n {
			nTrain = n - 1
		}

		for i, idx := range order {
			if i < nTrain {
				part.Train = append(part.Train, members[idx])
			} else {
				part.Test = append(part.Test, members[idx])
			}
		}
	}

	part.stamp()
	return part, nil
}

// RandomSplit partitions items uniformly at random at the given train
// ratio, with no class stratification. Used for OOD items, which carry
// no meaningful distributional label.
func RandomSplit(items []*DistributionDataItem, ratio float64, rng *rand.Rand) (Partition, error) {
	if err := checkRatio(ratio); err != nil {
		return Partition{}, err
	}
	if len(items) == 0 {
		return Partition{}, fmt.Errorf("no items to split")
	}

	order := rng.Perm(len(items))
	nTrain := int(ratio * float64(len(items)))

	var part Partition
	for i, idx := range order {
		if i < nTrain {
			part.Train = append(part.Train, items[idx])
		} else {
			part.Test = append(part.Test, items[idx])
		}
	}

	part.stamp()
	return part, nil
}

func checkRatio(ratio float64) error {
	if ratio <= 0 || ratio >= 1 {
		return fmt.Errorf("train ratio %v out of range (0,1)", ratio)
	}
	return nil
}
