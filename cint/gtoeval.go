package cint

import (
	"fmt"
	"math"
	"strings"
)

// GTOEvaluator is a pure-Go Evaluator backend for s shells (angular
// momentum 0). It supports the overlap,
// kinetic, nuclear-attraction, rinv and electron-repulsion operations with
// their first spatial derivatives, and orbital evaluation on a grid up to
// second derivatives. Higher angular momenta and higher derivative orders
// are left to the native libcint backend.
//
// The derivative kernels are arranged so that a request that is the
// transpose of another produces bit-for-bit transposed output: the bra and
// ket gradients are assembled from shared sub-expressions whose sign flips
// are exact in IEEE arithmetic.
type GTOEvaluator struct{}

// NewGTO returns the pure-Go evaluator.
func NewGTO() *GTOEvaluator { return &GTOEvaluator{} }

// Optimizer implements Evaluator; this backend precomputes nothing per
// operation.
func (*GTOEvaluator) Optimizer(opname string, tbl *Tables) (Optimizer, error) {
	return NoOptimizer{}, nil
}

type shellData struct {
	l      int
	alphas []float64
	coeffs []float64
	center [3]float64
}

func loadShell(tbl *Tables, sh int) (shellData, error) {
	var sd shellData
	sd.l = tbl.BasField(sh, AngOf)
	if sd.l != 0 {
		return sd, fmt.Errorf("%w: GTOEvaluator supports angular momentum 0 only, shell %d has l=%d", ErrNativeCall, sh, sd.l)
	}
	nprim := tbl.BasField(sh, NPrimOf)
	pExp := tbl.BasField(sh, PtrExp)
	pCoeff := tbl.BasField(sh, PtrCoeff)
	sd.alphas = tbl.Env[pExp : pExp+nprim]
	// the stored coefficients carry the radial normalization; fold in the
	// l=0 spherical common factor so plain volume integrals reproduce the
	// spherical convention
	sfac := 0.5 / math.Sqrt(math.Pi)
	sd.coeffs = make([]float64, nprim)
	for k, c := range tbl.Env[pCoeff : pCoeff+nprim] {
		sd.coeffs[k] = sfac * c
	}
	ia := tbl.BasField(sh, AtomOf)
	pc := tbl.AtmField(ia, PtrCoord)
	copy(sd.center[:], tbl.Env[pc:pc+NDim])
	return sd, nil
}

// boys0 is the Boys function F0(t) = (1/2) sqrt(pi/t) erf(sqrt(t)).
func boys0(t float64) float64 {
	if t < 1e-14 {
		return 1 - t/3
	}
	st := math.Sqrt(t)
	return 0.5 * math.Sqrt(math.Pi) / st * math.Erf(st)
}

// boys1 is F1(t) = (F0(t) - exp(-t)) / (2t).
func boys1(t float64) float64 {
	if t < 1e-10 {
		return 1.0/3 - t/5
	}
	return (boys0(t) - math.Exp(-t)) / (2 * t)
}

// pairTerm holds an s-primitive pair integral value and its gradients with
// respect to the bra and ket centers.
type pairTerm struct {
	v      float64
	gA, gB [3]float64
}

func ovlpPrim(a, b float64, A, B [3]float64) pairTerm {
	p := a + b
	mu := a * b / p
	var r2 float64
	var d [3]float64
	for x := 0; x < 3; x++ {
		d[x] = A[x] - B[x]
		r2 += d[x] * d[x]
	}
	s := math.Pow(math.Pi/p, 1.5) * math.Exp(-mu*r2)
	var t pairTerm
	t.v = s
	for x := 0; x < 3; x++ {
		t.gA[x] = -2 * mu * d[x] * s
		t.gB[x] = -t.gA[x]
	}
	return t
}

func kinPrim(a, b float64, A, B [3]float64) pairTerm {
	p := a + b
	mu := a * b / p
	var r2 float64
	var d [3]float64
	for x := 0; x < 3; x++ {
		d[x] = A[x] - B[x]
		r2 += d[x] * d[x]
	}
	s := math.Pow(math.Pi/p, 1.5) * math.Exp(-mu*r2)
	f := mu * (3 - 2*mu*r2)
	var t pairTerm
	t.v = f * s
	for x := 0; x < 3; x++ {
		gs := -2 * mu * d[x] * s
		t.gA[x] = -4*mu*mu*d[x]*s + f*gs
		t.gB[x] = -t.gA[x]
	}
	return t
}

func rinvPrim(a, b float64, A, B, C [3]float64) pairTerm {
	p := a + b
	mu := a * b / p
	var r2 float64
	var d, P [3]float64
	for x := 0; x < 3; x++ {
		d[x] = A[x] - B[x]
		r2 += d[x] * d[x]
		P[x] = (a*A[x] + b*B[x]) / p
	}
	e := math.Exp(-mu * r2)
	var u2 float64
	var pc [3]float64
	for x := 0; x < 3; x++ {
		pc[x] = P[x] - C[x]
		u2 += pc[x] * pc[x]
	}
	tt := p * u2
	f0 := boys0(tt)
	f1 := boys1(tt)
	k := 2 * math.Pi / p
	ef0 := e * f0
	mef1 := e * -f1
	var t pairTerm
	t.v = k * ef0
	for x := 0; x < 3; x++ {
		t.gA[x] = k * (-2*mu*d[x]*ef0 + mef1*(2*a*pc[x]))
		t.gB[x] = k * (2*mu*d[x]*ef0 + mef1*(2*b*pc[x]))
	}
	return t
}

// pairShell contracts prim over the primitives of two shells. C is used only
// by rinv/nuc kernels.
func pairShell(si, sj shellData, prim func(a, b float64, A, B [3]float64) pairTerm) pairTerm {
	var acc pairTerm
	for ki, a := range si.alphas {
		for kj, b := range sj.alphas {
			t := prim(a, b, si.center, sj.center)
			c := si.coeffs[ki] * sj.coeffs[kj]
			acc.v += c * t.v
			for x := 0; x < 3; x++ {
				acc.gA[x] += c * t.gA[x]
				acc.gB[x] += c * t.gB[x]
			}
		}
	}
	return acc
}

// int1eShort describes a parsed one-electron operation name.
type int1eShort struct {
	base       string
	nipL, nipR int
}

func parseInt1eOp(opname string) (int1eShort, error) {
	var sh int1eShort
	s := opname
	if !strings.HasPrefix(s, "int1e_") {
		return sh, fmt.Errorf("%w: bad 1e operation name %q", ErrNativeCall, opname)
	}
	s = strings.TrimPrefix(s, "int1e_")
	if i := strings.LastIndex(s, "_"); i >= 0 {
		s = s[:i] // drop _sph / _cart
	}
	for strings.HasPrefix(s, "ip") {
		sh.nipL++
		s = s[2:]
	}
	for strings.HasSuffix(s, "ip") {
		sh.nipR++
		s = s[:len(s)-2]
	}
	sh.base = s
	switch sh.base {
	case "ovlp", "kin", "nuc", "rinv":
	default:
		return sh, fmt.Errorf("%w: unsupported 1e operation %q", ErrNativeCall, opname)
	}
	if sh.nipL+sh.nipR > 1 {
		return sh, fmt.Errorf("%w: GTOEvaluator supports first derivatives only, got %q", ErrNativeCall, opname)
	}
	return sh, nil
}

// Int1e implements Evaluator for s shells.
func (ev *GTOEvaluator) Int1e(opname string, out []float64, ncomp int, shls [4]int, aoLoc []int, opt Optimizer, tbl *Tables) error {
	sh, err := parseInt1eOp(opname)
	if err != nil {
		return err
	}
	ish0, ish1, jsh0, jsh1 := shls[0], shls[1], shls[2], shls[3]
	naoi := aoLoc[ish1] - aoLoc[ish0]
	naoj := aoLoc[jsh1] - aoLoc[jsh0]
	if len(out) < ncomp*naoi*naoj {
		return fmt.Errorf("%w: output buffer too small for %q", ErrNativeCall, opname)
	}

	for ish := ish0; ish < ish1; ish++ {
		si, err := loadShell(tbl, ish)
		if err != nil {
			return err
		}
		for jsh := jsh0; jsh < jsh1; jsh++ {
			sj, err := loadShell(tbl, jsh)
			if err != nil {
				return err
			}
			t, err := ev.pair1e(sh.base, si, sj, tbl)
			if err != nil {
				return err
			}
			i := aoLoc[ish] - aoLoc[ish0]
			j := aoLoc[jsh] - aoLoc[jsh0]
			// native layout: (ncomp, column, row) = (comp, j, i)
			switch {
			case sh.nipL == 1:
				for x := 0; x < 3; x++ {
					out[x*naoj*naoi+j*naoi+i] = -t.gA[x]
				}
			case sh.nipR == 1:
				for x := 0; x < 3; x++ {
					out[x*naoj*naoi+j*naoi+i] = -t.gB[x]
				}
			default:
				out[j*naoi+i] = t.v
			}
		}
	}
	return nil
}

func (ev *GTOEvaluator) pair1e(base string, si, sj shellData, tbl *Tables) (pairTerm, error) {
	switch base {
	case "ovlp":
		return pairShell(si, sj, ovlpPrim), nil
	case "kin":
		return pairShell(si, sj, kinPrim), nil
	case "rinv":
		var c [3]float64
		copy(c[:], tbl.Env[PtrRinvOrig:PtrRinvOrig+NDim])
		return pairShell(si, sj, func(a, b float64, A, B [3]float64) pairTerm {
			return rinvPrim(a, b, A, B, c)
		}), nil
	case "nuc":
		var acc pairTerm
		for ia := 0; ia < tbl.NAtm(); ia++ {
			z := float64(tbl.AtmField(ia, ChargeOf))
			pc := tbl.AtmField(ia, PtrCoord)
			var c [3]float64
			copy(c[:], tbl.Env[pc:pc+NDim])
			t := pairShell(si, sj, func(a, b float64, A, B [3]float64) pairTerm {
				return rinvPrim(a, b, A, B, c)
			})
			acc.v += -z * t.v
			for x := 0; x < 3; x++ {
				acc.gA[x] += -z * t.gA[x]
				acc.gB[x] += -z * t.gB[x]
			}
		}
		return acc, nil
	}
	return pairTerm{}, fmt.Errorf("%w: unsupported 1e base %q", ErrNativeCall, base)
}

// quartTerm holds a primitive electron-repulsion integral and its gradients
// with respect to the four centers.
type quartTerm struct {
	v float64
	g [4][3]float64
}

func eriPrim(a, b, c, d float64, A, B, C, D [3]float64) quartTerm {
	p := a + b
	q := c + d
	mu1 := a * b / p
	mu2 := c * d / q
	var rab2, rcd2 float64
	var dab, dcd, P, Q [3]float64
	for x := 0; x < 3; x++ {
		dab[x] = A[x] - B[x]
		dcd[x] = C[x] - D[x]
		rab2 += dab[x] * dab[x]
		rcd2 += dcd[x] * dcd[x]
		P[x] = (a*A[x] + b*B[x]) / p
		Q[x] = (c*C[x] + d*D[x]) / q
	}
	e := math.Exp(-mu1*rab2) * math.Exp(-mu2*rcd2)
	rho := p * q / (p + q)
	var u2 float64
	var pq [3]float64
	for x := 0; x < 3; x++ {
		pq[x] = P[x] - Q[x]
		u2 += pq[x] * pq[x]
	}
	tt := rho * u2
	f0 := boys0(tt)
	f1 := boys1(tt)
	k := 2 * math.Pow(math.Pi, 2.5) / (p * q * math.Sqrt(p+q))
	ef0 := e * f0
	mef1 := e * -f1
	var t quartTerm
	t.v = k * ef0
	for x := 0; x < 3; x++ {
		t.g[0][x] = k * (-2*mu1*dab[x]*ef0 + mef1*(2*rho*(a/p)*pq[x]))
		t.g[1][x] = k * (2*mu1*dab[x]*ef0 + mef1*(2*rho*(b/p)*pq[x]))
		t.g[2][x] = k * (-2*mu2*dcd[x]*ef0 + mef1*(2*rho*(c/q)*-pq[x]))
		t.g[3][x] = k * (2*mu2*dcd[x]*ef0 + mef1*(2*rho*(d/q)*-pq[x]))
	}
	return t
}

// parseInt2eOp splits the shortname embedded in a two-electron operation
// name into the per-center derivative counts around the 'a', "r12", 'b'
// markers.
func parseInt2eOp(opname string) ([4]int, error) {
	var nip [4]int
	s := opname
	if !strings.HasPrefix(s, "int2e_") {
		return nip, fmt.Errorf("%w: bad 2e operation name %q", ErrNativeCall, opname)
	}
	s = strings.TrimPrefix(s, "int2e_")
	if i := strings.LastIndex(s, "_"); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "r12", "|")
	s = strings.ReplaceAll(s, "a", "|")
	s = strings.ReplaceAll(s, "b", "|")
	parts := strings.Split(s, "|")
	if len(parts) != 4 {
		return nip, fmt.Errorf("%w: unsupported 2e operation %q", ErrNativeCall, opname)
	}
	total := 0
	for i, part := range parts {
		nip[i] = strings.Count(part, "ip")
		if len(part) != 2*nip[i] {
			return nip, fmt.Errorf("%w: unsupported 2e operation %q", ErrNativeCall, opname)
		}
		total += nip[i]
	}
	if total > 1 {
		return nip, fmt.Errorf("%w: GTOEvaluator supports first derivatives only, got %q", ErrNativeCall, opname)
	}
	return nip, nil
}

// Int2e implements Evaluator for s shells with a plain s1 (no symmetry) fill.
func (ev *GTOEvaluator) Int2e(opname string, out []float64, ncomp int, shls [8]int, aoLoc []int, opt Optimizer, tbl *Tables) error {
	nip, err := parseInt2eOp(opname)
	if err != nil {
		return err
	}
	deriv := -1
	for n, c := range nip {
		if c == 1 {
			deriv = n
		}
	}
	nao := make([]int, 4)
	off := make([]int, 4)
	for n := 0; n < 4; n++ {
		nao[n] = aoLoc[shls[2*n+1]] - aoLoc[shls[2*n]]
		off[n] = aoLoc[shls[2*n]]
	}
	block := nao[0] * nao[1] * nao[2] * nao[3]
	if len(out) < ncomp*block {
		return fmt.Errorf("%w: output buffer too small for %q", ErrNativeCall, opname)
	}

	shells := make([][]shellData, 4)
	for n := 0; n < 4; n++ {
		shells[n] = make([]shellData, 0, shls[2*n+1]-shls[2*n])
		for sh := shls[2*n]; sh < shls[2*n+1]; sh++ {
			sd, err := loadShell(tbl, sh)
			if err != nil {
				return err
			}
			shells[n] = append(shells[n], sd)
		}
	}

	for ii, si := range shells[0] {
		for jj, sj := range shells[1] {
			for kk, sk := range shells[2] {
				for ll, sl := range shells[3] {
					var acc quartTerm
					for ka, a := range si.alphas {
						for kb, b := range sj.alphas {
							for kc, c := range sk.alphas {
								for kd, d := range sl.alphas {
									t := eriPrim(a, b, c, d, si.center, sj.center, sk.center, sl.center)
									cc := si.coeffs[ka] * sj.coeffs[kb] * sk.coeffs[kc] * sl.coeffs[kd]
									acc.v += cc * t.v
									for n := 0; n < 4; n++ {
										for x := 0; x < 3; x++ {
											acc.g[n][x] += cc * t.g[n][x]
										}
									}
								}
							}
						}
					}
					i := aoLoc[shls[0]+ii] - off[0]
					j := aoLoc[shls[2]+jj] - off[1]
					k := aoLoc[shls[4]+kk] - off[2]
					l := aoLoc[shls[6]+ll] - off[3]
					idx := ((i*nao[1]+j)*nao[2]+k)*nao[3] + l
					if deriv < 0 {
						out[idx] = acc.v
					} else {
						for x := 0; x < 3; x++ {
							out[x*block+idx] = -acc.g[deriv][x]
						}
					}
				}
			}
		}
	}
	return nil
}

// EvalGTO implements Evaluator: orbital values and derivatives on a grid of
// ngrid points, coords stored as consecutive (x, y, z) rows.
func (ev *GTOEvaluator) EvalGTO(opname string, out []float64, shls [2]int, aoLoc []int, coords []float64, tbl *Tables) error {
	s := opname
	if !strings.HasPrefix(s, "GTOval") {
		return fmt.Errorf("%w: bad grid operation name %q", ErrNativeCall, opname)
	}
	s = strings.TrimPrefix(s, "GTOval")
	s = strings.TrimSuffix(s, "_sph")
	s = strings.TrimSuffix(s, "_cart")
	s = strings.TrimPrefix(s, "_")

	var ncomp int
	switch s {
	case "":
		ncomp = 1
	case "ip", "iplapl":
		ncomp = 3
	case "ipip":
		ncomp = 9
	case "lapl":
		ncomp = 1
	default:
		return fmt.Errorf("%w: unsupported grid operation %q", ErrNativeCall, opname)
	}

	ngrid := len(coords) / NDim
	nao := aoLoc[shls[1]] - aoLoc[shls[0]]
	if len(out) < ncomp*nao*ngrid {
		return fmt.Errorf("%w: output buffer too small for %q", ErrNativeCall, opname)
	}

	for sh := shls[0]; sh < shls[1]; sh++ {
		sd, err := loadShell(tbl, sh)
		if err != nil {
			return err
		}
		ao := aoLoc[sh] - aoLoc[shls[0]]
		for g := 0; g < ngrid; g++ {
			var u [3]float64
			var u2 float64
			for x := 0; x < 3; x++ {
				u[x] = coords[g*NDim+x] - sd.center[x]
				u2 += u[x] * u[x]
			}
			comps := make([]float64, ncomp)
			for kp, a := range sd.alphas {
				c := sd.coeffs[kp]
				e := c * math.Exp(-a*u2)
				switch s {
				case "":
					comps[0] += e
				case "ip":
					for x := 0; x < 3; x++ {
						comps[x] += -2 * a * u[x] * e
					}
				case "lapl":
					comps[0] += (4*a*a*u2 - 6*a) * e
				case "iplapl":
					for x := 0; x < 3; x++ {
						comps[x] += (8*a*a*u[x] - 2*a*u[x]*(4*a*a*u2-6*a)) * e
					}
				case "ipip":
					for x := 0; x < 3; x++ {
						for y := 0; y < 3; y++ {
							v := 4 * a * a * u[x] * u[y] * e
							if x == y {
								v -= 2 * a * e
							}
							comps[3*x+y] += v
						}
					}
				}
			}
			for cc := 0; cc < ncomp; cc++ {
				out[cc*nao*ngrid+ao*ngrid+g] = comps[cc]
			}
		}
	}
	return nil
}
