package effects

import (
	"math"

	"github.com/keagan/artcannon/internal/frame"
)

// workingMax bounds the long side the heavier recipes operate on
const workingMax = 720

// atWorkingSize runs fn on a copy no larger than maxSide and scales the
// result back to the input size
func atWorkingSize(src *frame.Frame, maxSide int, fn func(*frame.Frame) *frame.Frame) *frame.Frame {
	work := src.Fit(maxSide)
	out := fn(work)
	if work != src {
		out = out.Resize(src.Width, src.Height)
	}
	return out
}

func pencil(src *frame.Frame, p PencilParams) *frame.Frame {
	return atWorkingSize(src, p.WorkingMax, func(work *frame.Frame) *frame.Frame {
		g := toGray(work)
		inv := make([]byte, len(g.pix))
		for i, v := range g.pix {
			inv[i] = 255 - v
		}
		blurred := blurFrac(inv, g.w, g.h, 1, p.BlurRadius)

		sketch := gray{w: g.w, h: g.h, pix: make([]byte, len(g.pix))}
		for i, v := range g.pix {
			denom := 255 - int(blurred[i])
			if denom <= 0 {
				sketch.pix[i] = 255
				continue
			}
			sketch.pix[i] = clamp8(float64(int(v)*256) / float64(denom))
		}

		if p.EdgeOverlay {
			edges := sobel(g)
			for i, e := range edges.pix {
				sketch.pix[i] = clamp8(float64(sketch.pix[i]) * (1 - 0.5*float64(e)/255))
			}
		}
		return sketch.toRGB()
	})
}

func cartoon(src *frame.Frame, p CartoonParams) *frame.Frame {
	return atWorkingSize(src, workingMax, func(work *frame.Frame) *frame.Frame {
		smooth := work
		for i := 0; i < p.SmoothPasses; i++ {
			smooth = bilateral(smooth, p.SmoothRadius, 60, 3)
		}
		out := quantize(smooth, p.Colors, 8)
		darkenEdges(out, sobel(toGray(smooth)), p.EdgeThreshold)
		return out
	})
}

func oilPainting(src *frame.Frame, p OilParams) *frame.Frame {
	return atWorkingSize(src, workingMax, func(work *frame.Frame) *frame.Frame {
		return brushHistogram(kuwahara(work, p.BrushRadius), 2, p.Levels)
	})
}

// kuwahara replaces each pixel with the mean of its lowest-variance quadrant
func kuwahara(f *frame.Frame, radius int) *frame.Frame {
	w, h := f.Width, f.Height
	stride := w + 1
	sat := make([][5]float64, stride*(h+1))
	for y := 0; y < h; y++ {
		var row [5]float64
		for x := 0; x < w; x++ {
			p := f.Pix[(y*w+x)*3:]
			l := float64(frame.Luma(p[0], p[1], p[2]))
			row[0] += float64(p[0])
			row[1] += float64(p[1])
			row[2] += float64(p[2])
			row[3] += l
			row[4] += l * l
			above := sat[y*stride+x+1]
			for c := range row {
				sat[(y+1)*stride+x+1][c] = above[c] + row[c]
			}
		}
	}
	// region sums over the inclusive rectangle [x0,x1]x[y0,y1]
	region := func(x0, y0, x1, y1 int) ([5]float64, float64) {
		x0, y0 = clampInt(x0, 0, w-1), clampInt(y0, 0, h-1)
		x1, y1 = clampInt(x1, 0, w-1), clampInt(y1, 0, h-1)
		var s [5]float64
		a, b := sat[y0*stride+x0], sat[y0*stride+x1+1]
		c, d := sat[(y1+1)*stride+x0], sat[(y1+1)*stride+x1+1]
		for i := range s {
			s[i] = d[i] - b[i] - c[i] + a[i]
		}
		return s, float64((x1 - x0 + 1) * (y1 - y0 + 1))
	}

	out := frame.New(w, h, frame.RGB)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			quads := [4][4]int{
				{x - radius, y - radius, x, y},
				{x, y - radius, x + radius, y},
				{x - radius, y, x, y + radius},
				{x, y, x + radius, y + radius},
			}
			bestVar := math.MaxFloat64
			var best [5]float64
			var bestN float64
			for _, q := range quads {
				s, n := region(q[0], q[1], q[2], q[3])
				mean := s[3] / n
				if v := s[4]/n - mean*mean; v < bestVar {
					bestVar, best, bestN = v, s, n
				}
			}
			o := out.Pix[(y*w+x)*3:]
			o[0], o[1], o[2] = clamp8(best[0]/bestN), clamp8(best[1]/bestN), clamp8(best[2]/bestN)
		}
	}
	return out
}

// brushHistogram gives each pixel the mean color of the most common
// intensity level in its neighborhood, producing brush-like patches
func brushHistogram(f *frame.Frame, radius, levels int) *frame.Frame {
	w, h := f.Width, f.Height
	level := make([]int, w*h)
	for i := range level {
		p := f.Pix[i*3:]
		level[i] = int(frame.Luma(p[0], p[1], p[2])) * (levels - 1) / 255
	}

	out := frame.New(w, h, frame.RGB)
	counts := make([]int, levels)
	sums := make([][3]int, levels)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for i := range counts {
				counts[i] = 0
				sums[i] = [3]int{}
			}
			for dy := -radius; dy <= radius; dy++ {
				sy := clampInt(y+dy, 0, h-1)
				for dx := -radius; dx <= radius; dx++ {
					idx := sy*w + clampInt(x+dx, 0, w-1)
					l := level[idx]
					p := f.Pix[idx*3:]
					counts[l]++
					sums[l][0] += int(p[0])
					sums[l][1] += int(p[1])
					sums[l][2] += int(p[2])
				}
			}
			best := 0
			for l := 1; l < levels; l++ {
				if counts[l] > counts[best] {
					best = l
				}
			}
			o := out.Pix[(y*w+x)*3:]
			n := counts[best]
			o[0], o[1], o[2] = byte(sums[best][0]/n), byte(sums[best][1]/n), byte(sums[best][2]/n)
		}
	}
	return out
}

var paper = [3]float64{250, 245, 232}

func watercolor(src *frame.Frame, p WatercolorParams) *frame.Frame {
	return atWorkingSize(src, workingMax, func(work *frame.Frame) *frame.Frame {
		smooth := work
		for i := 0; i < p.SmoothPasses; i++ {
			smooth = bilateral(smooth, p.SmoothRadius, 90, 3)
		}
		edges := sobel(toGray(smooth))
		wash := blur(edges.pix, edges.w, edges.h, 1, 2)

		out := frame.New(smooth.Width, smooth.Height, frame.RGB)
		for i, e := range wash {
			shade := 1 - p.EdgeWash*float64(e)/255
			for c := 0; c < 3; c++ {
				v := float64(smooth.Pix[i*3+c]) * shade
				out.Pix[i*3+c] = clamp8(v*(1-p.PaperTone) + paper[c]*p.PaperTone)
			}
		}
		return out
	})
}

func anime(src *frame.Frame, p AnimeParams) *frame.Frame {
	return atWorkingSize(src, workingMax, func(work *frame.Frame) *frame.Frame {
		smooth := bilateral(work, p.SmoothRadius, 70, 3)
		out := quantize(smooth, p.Colors, 8)

		edges := sobel(toGray(smooth))
		for i, e := range edges.pix {
			if int(e) > p.EdgeThreshold {
				edges.pix[i] = 255
			} else {
				edges.pix[i] = 0
			}
		}
		darkenEdges(out, dilate(edges, 1), 0)

		for i, v := range out.Pix {
			out.Pix[i] = clamp8(float64(v)*p.Contrast + p.Brightness)
		}
		return out
	})
}

func vintageFilm(src *frame.Frame, p VintageParams) *frame.Frame {
	w, h := src.Width, src.Height
	out := frame.New(w, h, frame.RGB)
	cx, cy := float64(w)/2, float64(h)/2
	maxR := math.Hypot(cx, cy)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			var rgb [3]float64
			for c := 0; c < 3; c++ {
				grain := 0
				if p.Grain > 0 {
					grain = int(hash2(x, y, c) % uint32(p.Grain+1))
				}
				rgb[c] = math.Min(255, float64(int(src.Pix[i+c])+grain))
			}
			r := 0.393*rgb[0] + 0.769*rgb[1] + 0.189*rgb[2]
			g := 0.349*rgb[0] + 0.686*rgb[1] + 0.168*rgb[2]
			b := 0.272*rgb[0] + 0.534*rgb[1] + 0.131*rgb[2]

			v := 1 - math.Hypot(float64(x)-cx, float64(y)-cy)/maxR*p.Vignette
			v = math.Max(p.VignetteMin, math.Min(1, v))
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = clamp8(r*v), clamp8(g*v), clamp8(b*v)
		}
	}
	return out
}
