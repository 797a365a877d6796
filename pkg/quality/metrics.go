package quality

import (
	"crypto/md5"
	"image"
	"math"
)

// grayscale flattens an image to one float64 luma plane.
func grayscale(img image.Image) ([]float64, int, int) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	plane := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			plane[y*w+x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return plane, w, h
}

// laplacianVariance measures sharpness: variance of the 4-neighbor Laplacian
// response. Blurry frames score low.
func laplacianVariance(img image.Image) float64 {
	plane, w, h := grayscale(img)
	if w < 3 || h < 3 {
		return 0
	}
	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := plane[(y-1)*w+x] + plane[(y+1)*w+x] +
				plane[y*w+x-1] + plane[y*w+x+1] - 4*plane[y*w+x]
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// blankScore is 1 - unique_values/min(pixels, 256): near 1 for flat frames.
func blankScore(img image.Image) float64 {
	plane, w, h := grayscale(img)
	total := w * h
	if total == 0 {
		return 1
	}
	seen := map[uint8]bool{}
	for _, v := range plane {
		seen[uint8(v)] = true
	}
	limit := total
	if limit > 256 {
		limit = 256
	}
	return 1 - float64(len(seen))/float64(limit)
}

// colorSpread is the std-dev of the per-channel histogram std-devs. Grey or
// single-hue frames score low.
func colorSpread(img image.Image) float64 {
	bounds := img.Bounds()
	var hists [3][256]float64
	n := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			hists[0][r>>8]++
			hists[1][g>>8]++
			hists[2][b>>8]++
			n++
		}
	}
	if n == 0 {
		return 0
	}
	var stds [3]float64
	for c := 0; c < 3; c++ {
		var sum, sumSq float64
		for _, v := range hists[c] {
			sum += v
			sumSq += v * v
		}
		mean := sum / 256
		stds[c] = math.Sqrt(sumSq/256 - mean*mean)
	}
	mean := (stds[0] + stds[1] + stds[2]) / 3
	variance := ((stds[0]-mean)*(stds[0]-mean) +
		(stds[1]-mean)*(stds[1]-mean) +
		(stds[2]-mean)*(stds[2]-mean)) / 3
	return math.Sqrt(variance)
}

// frameHash fingerprints a frame for distinct-frame counting.
func frameHash(img image.Image) [16]byte {
	plane, w, h := grayscale(img)
	// Downsample to an 8x8 signature so codec noise does not defeat equality.
	sig := make([]byte, 64)
	if w >= 8 && h >= 8 {
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				sig[y*8+x] = byte(plane[(y*h/8)*w+(x*w/8)])
			}
		}
	}
	return md5.Sum(sig)
}

// ssim computes the structural similarity of two equally sized frames over
// their luma planes using the standard global formulation.
func ssim(a, b image.Image) float64 {
	pa, wa, ha := grayscale(a)
	pb, wb, hb := grayscale(b)
	if wa != wb || ha != hb || len(pa) == 0 {
		return 0
	}

	var meanA, meanB float64
	for i := range pa {
		meanA += pa[i]
		meanB += pb[i]
	}
	n := float64(len(pa))
	meanA /= n
	meanB /= n

	var varA, varB, cov float64
	for i := range pa {
		da, db := pa[i]-meanA, pb[i]-meanB
		varA += da * da
		varB += db * db
		cov += da * db
	}
	varA /= n
	varB /= n
	cov /= n

	const c1 = 6.5025  // (0.01*255)^2
	const c2 = 58.5225 // (0.03*255)^2
	return ((2*meanA*meanB + c1) * (2*cov + c2)) /
		((meanA*meanA + meanB*meanB + c1) * (varA + varB + c2))
}

// flowMagnitude estimates mean motion between two frames by block matching:
// for each 16x16 block of a, the best offset within a small search window in
// b. A cheap stand-in for dense optical flow that distinguishes still from
// moving footage.
func flowMagnitude(a, b image.Image) float64 {
	pa, w, h := grayscale(a)
	pb, wb, hb := grayscale(b)
	if w != wb || h != hb || w < 32 || h < 32 {
		return 0
	}

	const block = 16
	const search = 4
	var totalMag float64
	blocks := 0
	for by := 0; by+block <= h; by += block {
		for bx := 0; bx+block <= w; bx += block {
			bestCost := math.MaxFloat64
			bestDx, bestDy := 0, 0
			for dy := -search; dy <= search; dy++ {
				for dx := -search; dx <= search; dx++ {
					if bx+dx < 0 || by+dy < 0 || bx+dx+block > w || by+dy+block > h {
						continue
					}
					var cost float64
					for y := 0; y < block; y += 2 {
						for x := 0; x < block; x += 2 {
							d := pa[(by+y)*w+bx+x] - pb[(by+dy+y)*w+bx+dx+x]
							cost += d * d
						}
					}
					if cost < bestCost {
						bestCost = cost
						bestDx, bestDy = dx, dy
					}
				}
			}
			totalMag += math.Hypot(float64(bestDx), float64(bestDy))
			blocks++
		}
	}
	if blocks == 0 {
		return 0
	}
	return totalMag / float64(blocks)
}
