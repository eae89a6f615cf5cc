package effects

import (
	"math"
	"sort"

	"github.com/keagan/artcannon/internal/frame"
)

// gray is a single-channel working plane
type gray struct {
	w, h int
	pix  []byte
}

func toGray(f *frame.Frame) gray {
	g := gray{w: f.Width, h: f.Height, pix: make([]byte, f.Width*f.Height)}
	for i := range g.pix {
		p := f.Pix[i*3:]
		g.pix[i] = frame.Luma(p[0], p[1], p[2])
	}
	return g
}

func (g gray) toRGB() *frame.Frame {
	out := frame.New(g.w, g.h, frame.RGB)
	for i, v := range g.pix {
		out.Pix[i*3], out.Pix[i*3+1], out.Pix[i*3+2] = v, v, v
	}
	return out
}

func (g gray) frame() *frame.Frame {
	return &frame.Frame{Width: g.w, Height: g.h, Channels: frame.Gray, BitDepth: 8, Pix: g.pix}
}

func clamp8(v float64) byte {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v + 0.5)
}

func gaussianKernel(radius int) []float64 {
	sigma := float64(radius) / 2
	if sigma < 0.5 {
		sigma = 0.5
	}
	k := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// blurFrac blurs at the two integer radii around radius and mixes them by
// the fractional part
func blurFrac(pix []byte, w, h, ch int, radius float64) []byte {
	lo := int(math.Floor(radius))
	frac := radius - float64(lo)
	near := blur(pix, w, h, ch, lo)
	if frac == 0 {
		return near
	}
	far := blur(pix, w, h, ch, lo+1)
	for i := range near {
		near[i] = clamp8(float64(near[i])*(1-frac) + float64(far[i])*frac)
	}
	return near
}

// blur applies a separable Gaussian to an interleaved buffer with edge clamping
func blur(pix []byte, w, h, ch, radius int) []byte {
	if radius <= 0 {
		out := make([]byte, len(pix))
		copy(out, pix)
		return out
	}
	k := gaussianKernel(radius)
	tmp := make([]float64, len(pix))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < ch; c++ {
				var acc float64
				for i := -radius; i <= radius; i++ {
					sx := clampInt(x+i, 0, w-1)
					acc += k[i+radius] * float64(pix[(y*w+sx)*ch+c])
				}
				tmp[(y*w+x)*ch+c] = acc
			}
		}
	}
	out := make([]byte, len(pix))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < ch; c++ {
				var acc float64
				for i := -radius; i <= radius; i++ {
					sy := clampInt(y+i, 0, h-1)
					acc += k[i+radius] * tmp[(sy*w+x)*ch+c]
				}
				out[(y*w+x)*ch+c] = clamp8(acc)
			}
		}
	}
	return out
}

// sobel returns the clamped gradient magnitude of a gray plane
func sobel(g gray) gray {
	out := gray{w: g.w, h: g.h, pix: make([]byte, len(g.pix))}
	at := func(x, y int) int {
		return int(g.pix[clampInt(y, 0, g.h-1)*g.w+clampInt(x, 0, g.w-1)])
	}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			gx := -at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1) + at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1)
			gy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) + at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
			out.pix[y*g.w+x] = clamp8(math.Sqrt(float64(gx*gx+gy*gy)) / 4)
		}
	}
	return out
}

// dilate grows bright regions of a mask by radius
func dilate(g gray, radius int) gray {
	out := gray{w: g.w, h: g.h, pix: make([]byte, len(g.pix))}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			var m byte
			for dy := -radius; dy <= radius; dy++ {
				sy := clampInt(y+dy, 0, g.h-1)
				for dx := -radius; dx <= radius; dx++ {
					if v := g.pix[sy*g.w+clampInt(x+dx, 0, g.w-1)]; v > m {
						m = v
					}
				}
			}
			out.pix[y*g.w+x] = m
		}
	}
	return out
}

// bilateral smooths an RGB frame while keeping strong color edges
func bilateral(f *frame.Frame, radius int, sigmaColor, sigmaSpace float64) *frame.Frame {
	w, h := f.Width, f.Height
	out := frame.New(w, h, frame.RGB)

	size := 2*radius + 1
	spatial := make([]float64, size*size)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			spatial[(dy+radius)*size+dx+radius] = math.Exp(-float64(dx*dx+dy*dy) / (2 * sigmaSpace * sigmaSpace))
		}
	}
	// Color distance is the L1 sum over channels, 0..765
	var colorLUT [766]float64
	for d := range colorLUT {
		colorLUT[d] = math.Exp(-float64(d*d) / (2 * sigmaColor * sigmaColor))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := f.Pix[(y*w+x)*3:]
			var sr, sg, sb, sw float64
			for dy := -radius; dy <= radius; dy++ {
				sy := clampInt(y+dy, 0, h-1)
				for dx := -radius; dx <= radius; dx++ {
					sx := clampInt(x+dx, 0, w-1)
					p := f.Pix[(sy*w+sx)*3:]
					d := absInt(int(p[0])-int(c[0])) + absInt(int(p[1])-int(c[1])) + absInt(int(p[2])-int(c[2]))
					wt := spatial[(dy+radius)*size+dx+radius] * colorLUT[d]
					sr += wt * float64(p[0])
					sg += wt * float64(p[1])
					sb += wt * float64(p[2])
					sw += wt
				}
			}
			o := out.Pix[(y*w+x)*3:]
			o[0], o[1], o[2] = clamp8(sr/sw), clamp8(sg/sw), clamp8(sb/sw)
		}
	}
	return out
}

// quantize maps every pixel to one of k colors found by k-means over a
// pixel subsample. Centers are seeded at luminance quantiles so the result
// is identical across runs.
func quantize(f *frame.Frame, k, iterations int) *frame.Frame {
	n := f.Width * f.Height
	stride := 1
	if n > 4096 {
		stride = n / 4096
	}

	type sample struct {
		rgb  [3]float64
		luma byte
	}
	samples := make([]sample, 0, n/stride+1)
	for i := 0; i < n; i += stride {
		p := f.Pix[i*3:]
		samples = append(samples, sample{
			rgb:  [3]float64{float64(p[0]), float64(p[1]), float64(p[2])},
			luma: frame.Luma(p[0], p[1], p[2]),
		})
	}
	sort.SliceStable(samples, func(a, b int) bool { return samples[a].luma < samples[b].luma })

	if k > len(samples) {
		k = len(samples)
	}
	centers := make([][3]float64, k)
	for i := range centers {
		centers[i] = samples[(2*i+1)*len(samples)/(2*k)].rgb
	}

	nearest := func(rgb [3]float64) int {
		best, bestDist := 0, math.MaxFloat64
		for ci, c := range centers {
			dr, dg, db := rgb[0]-c[0], rgb[1]-c[1], rgb[2]-c[2]
			if d := dr*dr + dg*dg + db*db; d < bestDist {
				best, bestDist = ci, d
			}
		}
		return best
	}

	for it := 0; it < iterations; it++ {
		sums := make([][4]float64, k)
		for _, s := range samples {
			ci := nearest(s.rgb)
			sums[ci][0] += s.rgb[0]
			sums[ci][1] += s.rgb[1]
			sums[ci][2] += s.rgb[2]
			sums[ci][3]++
		}
		for ci := range centers {
			if cnt := sums[ci][3]; cnt > 0 {
				centers[ci] = [3]float64{sums[ci][0] / cnt, sums[ci][1] / cnt, sums[ci][2] / cnt}
			}
		}
	}

	out := frame.New(f.Width, f.Height, frame.RGB)
	for i := 0; i < n; i++ {
		p := f.Pix[i*3:]
		c := centers[nearest([3]float64{float64(p[0]), float64(p[1]), float64(p[2])})]
		o := out.Pix[i*3:]
		o[0], o[1], o[2] = clamp8(c[0]), clamp8(c[1]), clamp8(c[2])
	}
	return out
}

// darkenEdges paints pixels whose edge value exceeds threshold black
func darkenEdges(f *frame.Frame, edges gray, threshold int) {
	for i, e := range edges.pix {
		if int(e) > threshold {
			f.Pix[i*3], f.Pix[i*3+1], f.Pix[i*3+2] = 0, 0, 0
		}
	}
}

// blend mixes effect over base by t; t=0 returns base unchanged
func blend(base, effect *frame.Frame, t float64) *frame.Frame {
	out := frame.New(base.Width, base.Height, frame.RGB)
	for i, b := range base.Pix {
		out.Pix[i] = clamp8(float64(b) + (float64(effect.Pix[i])-float64(b))*t)
	}
	return out
}

// hash2 is a positional integer hash used in place of a random source
func hash2(x, y, c int) uint32 {
	h := uint32(x)*374761393 + uint32(y)*668265263 + uint32(c)*2246822519
	h = (h ^ (h >> 13)) * 1274126177
	return h ^ (h >> 16)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
