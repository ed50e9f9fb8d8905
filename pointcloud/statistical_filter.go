package pointcloud

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/depthcloud/utils"
)

// StatisticalOutlierFilter returns a filter that computes, for every valid point, the mean
// distance to its meanK nearest neighbors. Points whose mean distance is larger than
// mean + stdDevThresh*stddev of all those distances are outliers. The filter keeps the
// inliers, or only the outliers when negative is set. The result is unorganized and dense.
func StatisticalOutlierFilter(meanK int, stdDevThresh float64, negative bool) (func(*Cloud) (*Cloud, error), error) {
	if meanK <= 0 {
		return nil, errors.Errorf("argument meanK must be a positive int, got %d", meanK)
	}
	if stdDevThresh <= 0.0 {
		return nil, errors.Errorf("argument stdDevThresh must be a positive float, got %.2f", stdDevThresh)
	}

	return func(cloud *Cloud) (*Cloud, error) {
		valid, _ := RemoveNaN(cloud)
		if valid.Size() < 2 {
			return valid, nil
		}
		kd := ToKDTree(valid)

		avgDistances := make([]float64, valid.Size())
		err := utils.GroupWorkParallel(context.Background(), valid.Size(), func(_, from, to int) error {
			for i := from; i < to; i++ {
				neighbors := kd.KNearestNeighbors(valid.Points[i].Position, meanK+1, true)
				sum, n := 0.0, 0
				for _, nb := range neighbors {
					if nb.Index == i {
						continue
					}
					if n == meanK {
						break
					}
					sum += nb.Distance
					n++
				}
				if n > 0 {
					avgDistances[i] = sum / float64(n)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		mean, stddev := stat.MeanStdDev(avgDistances, nil)
		threshold := mean + stdDevThresh*stddev

		filtered := NewUnorganized(cloud.Type, valid.Size())
		for i, p := range valid.Points {
			outlier := avgDistances[i] > threshold
			if outlier == negative {
				filtered.Append(p)
			}
		}
		return filtered, nil
	}, nil
}
