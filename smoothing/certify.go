package smoothing

// Certify decides, per sample, whether the prediction derived from predCounts
// is robust to any contiguous column corruption of sizeToCertify columns.
//
// predCounts holds one row per sample with one non-negative vote total per
// class, accumulated by classifying the sample at every ablation position.
// A corruption spanning sizeToCertify columns can intersect at most
// sizeToCertify + ablationSize - 1 ablation windows, and each intersected
// window can both remove a vote from the top class and add one to the
// runner-up. The sample is certified iff
//
//	counts[top] - counts[second] > 2*(sizeToCertify + ablationSize - 1)
//
// with the strict inequality leaving ties uncertified. The top class is the
// stable argmax of the row (lowest index wins a tie); the runner-up is the
// stable argmax over the remaining classes.
//
// Returns parallel slices: certified, certified-and-correct (certified and
// top class equals the label), and the top class per sample.
func Certify(predCounts [][]int, ablationSize, sizeToCertify int, labels []int) (cert []bool, certAndCorrect []bool, topClass []int, err error) {
	if ablationSize <= 0 {
		return nil, nil, nil, configErrorf("ablation size %d, must be positive", ablationSize)
	}
	if sizeToCertify <= 0 {
		return nil, nil, nil, domainErrorf("size to certify %d, must be positive", sizeToCertify)
	}
	if len(labels) != len(predCounts) {
		return nil, nil, nil, shapeErrorf("%d label(s) for %d vote row(s)", len(labels), len(predCounts))
	}

	affected := sizeToCertify + ablationSize - 1

	cert = make([]bool, len(predCounts))
	certAndCorrect = make([]bool, len(predCounts))
	topClass = make([]int, len(predCounts))
	for i, counts := range predCounts {
		if len(counts) == 0 {
			return nil, nil, nil, shapeErrorf("vote row %d is empty", i)
		}
		top, second := 0, -1
		for j, v := range counts {
			if v < 0 {
				return nil, nil, nil, domainErrorf("vote count %d for sample %d class %d, must be non-negative", v, i, j)
			}
			if v > counts[top] {
				top = j
			}
		}
		secondCount := 0
		for j, v := range counts {
			if j == top {
				continue
			}
			if second < 0 || v > secondCount {
				second, secondCount = j, v
			}
		}

		cert[i] = counts[top]-secondCount > 2*affected
		certAndCorrect[i] = cert[i] && top == labels[i]
		topClass[i] = top
	}
	return cert, certAndCorrect, topClass, nil
}
