package soft

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"fluidviz/core"
)

// fragment carries the interpolated varyings of the fullscreen quad.
type fragment struct {
	uv mgl32.Vec2
	l  mgl32.Vec2
	r  mgl32.Vec2
	t  mgl32.Vec2
	b  mgl32.Vec2
}

type shader func(f *fragment) mgl32.Vec4

// binder resolves uniforms once per draw and returns the per-texel shader.
type binder func(u uniforms, src core.ProgramSource) shader

type sampler struct{ t *texture }

func (s sampler) at(uv mgl32.Vec2) mgl32.Vec4 {
	if s.t == nil {
		return mgl32.Vec4{}
	}
	return s.t.sample(uv)
}

type uniforms core.Uniforms

func (u uniforms) tex(name string) sampler {
	t, _ := u[name].(*texture)
	return sampler{t: t}
}

func (u uniforms) f(name string) float32 {
	switch v := u[name].(type) {
	case float32:
		return v
	case int32:
		return float32(v)
	}
	return 0
}

func (u uniforms) v2(name string) mgl32.Vec2 {
	v, _ := u[name].(mgl32.Vec2)
	return v
}

func (u uniforms) v3(name string) mgl32.Vec3 {
	v, _ := u[name].(mgl32.Vec3)
	return v
}

func (u uniforms) v4(name string) mgl32.Vec4 {
	v, _ := u[name].(mgl32.Vec4)
	return v
}

// blurOffset is the linear-sampling offset of the 5-tap gaussian.
const blurOffset = 1.33333333

var binders = map[core.Pass]binder{
	core.PassCopy: func(u uniforms, _ core.ProgramSource) shader {
		src := u.tex("uTexture")
		return func(f *fragment) mgl32.Vec4 { return src.at(f.uv) }
	},
	core.PassClear: func(u uniforms, _ core.ProgramSource) shader {
		src, value := u.tex("uTexture"), u.f("value")
		return func(f *fragment) mgl32.Vec4 { return src.at(f.uv).Mul(value) }
	},
	core.PassColor: func(u uniforms, _ core.ProgramSource) shader {
		c := u.v4("color")
		return func(*fragment) mgl32.Vec4 { return c }
	},
	core.PassCheckerboard: func(u uniforms, _ core.ProgramSource) shader {
		aspect := u.f("aspectRatio")
		const scale = 25.0
		return func(f *fragment) mgl32.Vec4 {
			x := math.Floor(float64(f.uv[0] * scale * aspect))
			y := math.Floor(float64(f.uv[1] * scale))
			v := float32(math.Mod(x+y, 2))*0.1 + 0.8
			return mgl32.Vec4{v, v, v, 1}
		}
	},
	core.PassBloomPrefilter: func(u uniforms, _ core.ProgramSource) shader {
		src, curve, threshold := u.tex("uTexture"), u.v3("curve"), u.f("threshold")
		return func(f *fragment) mgl32.Vec4 {
			c := src.at(f.uv).Vec3()
			br := maxComponent(c)
			rq := clamp(br-curve[0], 0, curve[1])
			rq = curve[2] * rq * rq
			c = c.Mul(max32(rq, br-threshold) / max32(br, 0.0001))
			return c.Vec4(0)
		}
	},
	core.PassBloomBlur: func(u uniforms, _ core.ProgramSource) shader {
		src := u.tex("uTexture")
		return func(f *fragment) mgl32.Vec4 { return crossAverage(src, f) }
	},
	core.PassBloomFinal: func(u uniforms, _ core.ProgramSource) shader {
		src, intensity := u.tex("uTexture"), u.f("intensity")
		return func(f *fragment) mgl32.Vec4 { return crossAverage(src, f).Mul(intensity) }
	},
	core.PassSunraysMask: func(u uniforms, _ core.ProgramSource) shader {
		src := u.tex("uTexture")
		return func(f *fragment) mgl32.Vec4 {
			c := src.at(f.uv)
			br := maxComponent(c.Vec3())
			c[3] = 1 - min32(max32(br*20, 0), 0.8)
			return c
		}
	},
	core.PassSunrays: func(u uniforms, _ core.ProgramSource) shader {
		src, weight := u.tex("uTexture"), u.f("weight")
		const (
			iterations = 16
			density    = 0.3
			decay      = 0.95
			exposure   = 0.7
		)
		return func(f *fragment) mgl32.Vec4 {
			coord := f.uv
			dir := f.uv.Sub(mgl32.Vec2{0.5, 0.5}).Mul(1.0 / iterations * density)
			illumination := float32(1)
			color := src.at(f.uv)[3]
			for i := 0; i < iterations; i++ {
				coord = coord.Sub(dir)
				color += src.at(coord)[3] * illumination * weight
				illumination *= decay
			}
			return mgl32.Vec4{color * exposure, 0, 0, 1}
		}
	},
	core.PassBlur: func(u uniforms, _ core.ProgramSource) shader {
		src := u.tex("uTexture")
		return func(f *fragment) mgl32.Vec4 {
			sum := src.at(f.uv).Mul(0.29411764)
			sum = sum.Add(src.at(f.l).Mul(0.35294117))
			return sum.Add(src.at(f.r).Mul(0.35294117))
		}
	},
	core.PassSplat: func(u uniforms, _ core.ProgramSource) shader {
		target := u.tex("uTarget")
		aspect, radius := u.f("aspectRatio"), u.f("radius")
		color, point := u.v3("color"), u.v2("point")
		return func(f *fragment) mgl32.Vec4 {
			p := f.uv.Sub(point)
			p[0] *= aspect
			splat := color.Mul(float32(math.Exp(float64(-p.Dot(p) / radius))))
			base := target.at(f.uv).Vec3()
			return base.Add(splat).Vec4(1)
		}
	},
	core.PassAdvection: func(u uniforms, src core.ProgramSource) shader {
		velocity, source := u.tex("uVelocity"), u.tex("uSource")
		texel, dyeTexel := u.v2("texelSize"), u.v2("dyeTexelSize")
		dt, dissipation := u.f("dt"), u.f("dissipation")
		manual := src.Has(core.KeywordManualFiltering)
		return func(f *fragment) mgl32.Vec4 {
			var result mgl32.Vec4
			if manual {
				v := bilerp(velocity, f.uv, texel).Vec2()
				coord := f.uv.Sub(mulVec2(v.Mul(dt), texel))
				result = bilerp(source, coord, dyeTexel)
			} else {
				v := velocity.at(f.uv).Vec2()
				coord := f.uv.Sub(mulVec2(v.Mul(dt), texel))
				result = source.at(coord)
			}
			return result.Mul(1 / (1 + dissipation*dt))
		}
	},
	core.PassDivergence: func(u uniforms, _ core.ProgramSource) shader {
		velocity := u.tex("uVelocity")
		return func(f *fragment) mgl32.Vec4 {
			l := velocity.at(f.l)[0]
			r := velocity.at(f.r)[0]
			t := velocity.at(f.t)[1]
			b := velocity.at(f.b)[1]

			c := velocity.at(f.uv)
			if f.l[0] < 0 {
				l = -c[0]
			}
			if f.r[0] > 1 {
				r = -c[0]
			}
			if f.t[1] > 1 {
				t = -c[1]
			}
			if f.b[1] < 0 {
				b = -c[1]
			}
			return mgl32.Vec4{0.5 * (r - l + t - b), 0, 0, 1}
		}
	},
	core.PassCurl: func(u uniforms, _ core.ProgramSource) shader {
		velocity := u.tex("uVelocity")
		return func(f *fragment) mgl32.Vec4 {
			l := velocity.at(f.l)[1]
			r := velocity.at(f.r)[1]
			t := velocity.at(f.t)[0]
			b := velocity.at(f.b)[0]
			return mgl32.Vec4{0.5 * (r - l - t + b), 0, 0, 1}
		}
	},
	core.PassVorticity: func(u uniforms, _ core.ProgramSource) shader {
		velocity, curlTex := u.tex("uVelocity"), u.tex("uCurl")
		strength, dt := u.f("curl"), u.f("dt")
		return func(f *fragment) mgl32.Vec4 {
			l := curlTex.at(f.l)[0]
			r := curlTex.at(f.r)[0]
			t := curlTex.at(f.t)[0]
			b := curlTex.at(f.b)[0]
			c := curlTex.at(f.uv)[0]

			force := mgl32.Vec2{abs32(t) - abs32(b), abs32(r) - abs32(l)}.Mul(0.5)
			force = force.Mul(1 / (force.Len() + 0.0001))
			force = force.Mul(strength * c)
			force[1] = -force[1]

			v := velocity.at(f.uv).Vec2().Add(force.Mul(dt))
			v[0] = clamp(v[0], -1000, 1000)
			v[1] = clamp(v[1], -1000, 1000)
			return mgl32.Vec4{v[0], v[1], 0, 1}
		}
	},
	core.PassPressure: func(u uniforms, _ core.ProgramSource) shader {
		pressure, divergence := u.tex("uPressure"), u.tex("uDivergence")
		return func(f *fragment) mgl32.Vec4 {
			l := pressure.at(f.l)[0]
			r := pressure.at(f.r)[0]
			t := pressure.at(f.t)[0]
			b := pressure.at(f.b)[0]
			div := divergence.at(f.uv)[0]
			return mgl32.Vec4{(l + r + b + t - div) * 0.25, 0, 0, 1}
		}
	},
	core.PassGradientSubtract: func(u uniforms, _ core.ProgramSource) shader {
		pressure, velocity := u.tex("uPressure"), u.tex("uVelocity")
		return func(f *fragment) mgl32.Vec4 {
			l := pressure.at(f.l)[0]
			r := pressure.at(f.r)[0]
			t := pressure.at(f.t)[0]
			b := pressure.at(f.b)[0]
			v := velocity.at(f.uv).Vec2().Sub(mgl32.Vec2{r - l, t - b})
			return mgl32.Vec4{v[0], v[1], 0, 1}
		}
	},
	core.PassDisplay: bindDisplay,
}

func bindDisplay(u uniforms, src core.ProgramSource) shader {
	dye, bloomTex := u.tex("uTexture"), u.tex("uBloom")
	sunraysTex, dither := u.tex("uSunrays"), u.tex("uDithering")
	ditherScale, texel := u.v2("ditherScale"), u.v2("texelSize")
	shading := src.Has(core.KeywordShading)
	bloomOn := src.Has(core.KeywordBloom)
	sunraysOn := src.Has(core.KeywordSunrays)

	return func(f *fragment) mgl32.Vec4 {
		c := dye.at(f.uv).Vec3()

		if shading {
			lc := dye.at(f.l).Vec3()
			rc := dye.at(f.r).Vec3()
			tc := dye.at(f.t).Vec3()
			bc := dye.at(f.b).Vec3()

			dx := rc.Len() - lc.Len()
			dy := tc.Len() - bc.Len()
			n := mgl32.Vec3{dx, dy, texel.Len()}.Normalize()
			diffuse := clamp(n.Dot(mgl32.Vec3{0, 0, 1})+0.7, 0.7, 1)
			c = c.Mul(diffuse)
		}

		var bloom mgl32.Vec3
		if bloomOn {
			bloom = bloomTex.at(f.uv).Vec3()
		}
		if sunraysOn {
			s := sunraysTex.at(f.uv)[0]
			c = c.Mul(s)
			bloom = bloom.Mul(s)
		}
		if bloomOn {
			noise := dither.at(mulVec2(f.uv, ditherScale))[0]*2 - 1
			bloom = bloom.Add(mgl32.Vec3{1, 1, 1}.Mul(noise / 255))
			c = c.Add(linearToGamma(bloom))
		}

		return c.Vec4(maxComponent(c))
	}
}

// crossAverage is the 4-tap box used by the bloom chain.
func crossAverage(s sampler, f *fragment) mgl32.Vec4 {
	sum := s.at(f.l).Add(s.at(f.r)).Add(s.at(f.t)).Add(s.at(f.b))
	return sum.Mul(0.25)
}

// bilerp filters manually from nearest samples, for devices without float
// linear filtering.
func bilerp(s sampler, uv, tsize mgl32.Vec2) mgl32.Vec4 {
	st := mgl32.Vec2{uv[0]/tsize[0] - 0.5, uv[1]/tsize[1] - 0.5}
	iuv := mgl32.Vec2{float32(math.Floor(float64(st[0]))), float32(math.Floor(float64(st[1])))}
	fuv := st.Sub(iuv)

	at := func(ox, oy float32) mgl32.Vec4 {
		return s.at(mgl32.Vec2{(iuv[0] + ox) * tsize[0], (iuv[1] + oy) * tsize[1]})
	}
	a := at(0.5, 0.5)
	b := at(1.5, 0.5)
	c := at(0.5, 1.5)
	d := at(1.5, 1.5)
	return mix4(mix4(a, b, fuv[0]), mix4(c, d, fuv[0]), fuv[1])
}

func linearToGamma(c mgl32.Vec3) mgl32.Vec3 {
	for i := range c {
		v := math.Pow(math.Max(float64(c[i]), 0), 0.416666667)
		c[i] = float32(math.Max(1.055*v-0.055, 0))
	}
	return c
}

func mulVec2(a, b mgl32.Vec2) mgl32.Vec2 {
	return mgl32.Vec2{a[0] * b[0], a[1] * b[1]}
}

func maxComponent(c mgl32.Vec3) float32 {
	return max32(c[0], max32(c[1], c[2]))
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
