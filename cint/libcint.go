//go:build libcint

package cint

/*
#cgo CFLAGS: -g -Wall
#cgo LDFLAGS: -lcint -lm -lquadmath

typedef struct CINTOpt CINTOpt;

int cint1e_ovlp_sph(double *buf, int *shls, int *atm, int natm, int *bas, int nbas, double *env);
int cint1e_kin_sph(double *buf, int *shls, int *atm, int natm, int *bas, int nbas, double *env);
int cint1e_nuc_sph(double *buf, int *shls, int *atm, int natm, int *bas, int nbas, double *env);
int cint1e_rinv_sph(double *buf, int *shls, int *atm, int natm, int *bas, int nbas, double *env);
int cint1e_ipovlp_sph(double *buf, int *shls, int *atm, int natm, int *bas, int nbas, double *env);
int cint1e_ipkin_sph(double *buf, int *shls, int *atm, int natm, int *bas, int nbas, double *env);
int cint1e_ipnuc_sph(double *buf, int *shls, int *atm, int natm, int *bas, int nbas, double *env);
int cint1e_iprinv_sph(double *buf, int *shls, int *atm, int natm, int *bas, int nbas, double *env);
int cint2e_sph(double *buf, int *shls, int *atm, int natm, int *bas, int nbas, double *env, CINTOpt *opt);
int cint2e_ip1_sph(double *buf, int *shls, int *atm, int natm, int *bas, int nbas, double *env, CINTOpt *opt);
int cint2e_ip2_sph(double *buf, int *shls, int *atm, int natm, int *bas, int nbas, double *env, CINTOpt *opt);
int CINTcgto_spheric(int bas_id, int *bas);
void CINTdel_optimizer(CINTOpt **opt);
*/
import "C"
import "fmt"

// LibcintEvaluator dispatches the Evaluator contract to a system libcint
// through cgo. Only built with the libcint tag; the pure-Go GTOEvaluator is
// the default backend.
type LibcintEvaluator struct{}

// NewLibcint returns the cgo-backed evaluator.
func NewLibcint() *LibcintEvaluator { return &LibcintEvaluator{} }

type libcintOpt struct {
	opt *C.CINTOpt
}

// Release frees the native optimizer; safe to call more than once.
func (o *libcintOpt) Release() {
	if o.opt != nil {
		C.CINTdel_optimizer(&o.opt)
		o.opt = nil
	}
}

// Optimizer implements Evaluator. The plain integral drivers here pass nil
// optimizers to libcint, which falls back to unoptimized paths, so the
// handle only exists to honor the contract's acquire/release pairing.
func (*LibcintEvaluator) Optimizer(opname string, tbl *Tables) (Optimizer, error) {
	return &libcintOpt{}, nil
}

func packTables(tbl *Tables) (atm, bas []C.int, env []C.double) {
	atm = make([]C.int, len(tbl.Atm))
	for i, v := range tbl.Atm {
		atm[i] = C.int(v)
	}
	bas = make([]C.int, len(tbl.Bas))
	for i, v := range tbl.Bas {
		bas[i] = C.int(v)
	}
	env = make([]C.double, len(tbl.Env))
	for i, v := range tbl.Env {
		env[i] = C.double(v)
	}
	return atm, bas, env
}

type int1eFn func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double) C.int

func lookup1e(opname string) (int1eFn, error) {
	switch opname {
	case "int1e_ovlp_sph":
		return func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double) C.int {
			return C.cint1e_ovlp_sph(buf, shls, atm, natm, bas, nbas, env)
		}, nil
	case "int1e_kin_sph":
		return func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double) C.int {
			return C.cint1e_kin_sph(buf, shls, atm, natm, bas, nbas, env)
		}, nil
	case "int1e_nuc_sph":
		return func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double) C.int {
			return C.cint1e_nuc_sph(buf, shls, atm, natm, bas, nbas, env)
		}, nil
	case "int1e_rinv_sph":
		return func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double) C.int {
			return C.cint1e_rinv_sph(buf, shls, atm, natm, bas, nbas, env)
		}, nil
	case "int1e_ipovlp_sph":
		return func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double) C.int {
			return C.cint1e_ipovlp_sph(buf, shls, atm, natm, bas, nbas, env)
		}, nil
	case "int1e_ipkin_sph":
		return func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double) C.int {
			return C.cint1e_ipkin_sph(buf, shls, atm, natm, bas, nbas, env)
		}, nil
	case "int1e_ipnuc_sph":
		return func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double) C.int {
			return C.cint1e_ipnuc_sph(buf, shls, atm, natm, bas, nbas, env)
		}, nil
	case "int1e_iprinv_sph":
		return func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double) C.int {
			return C.cint1e_iprinv_sph(buf, shls, atm, natm, bas, nbas, env)
		}, nil
	}
	return nil, fmt.Errorf("%w: no libcint symbol for %q", ErrNativeCall, opname)
}

// Int1e implements Evaluator by looping the shell pairs of the requested
// ranges and filling the (ncomp, column, row) output blocks, following the
// per-pair buffer layout libcint produces.
func (ev *LibcintEvaluator) Int1e(opname string, out []float64, ncomp int, shls [4]int, aoLoc []int, opt Optimizer, tbl *Tables) error {
	fn, err := lookup1e(opname)
	if err != nil {
		return err
	}
	atm, bas, env := packTables(tbl)
	natm := C.int(tbl.NAtm())
	nbas := C.int(tbl.NBas())

	ish0, ish1, jsh0, jsh1 := shls[0], shls[1], shls[2], shls[3]
	naoi := aoLoc[ish1] - aoLoc[ish0]
	naoj := aoLoc[jsh1] - aoLoc[jsh0]

	for ish := ish0; ish < ish1; ish++ {
		di := int(C.CINTcgto_spheric(C.int(ish), &bas[0]))
		for jsh := jsh0; jsh < jsh1; jsh++ {
			dj := int(C.CINTcgto_spheric(C.int(jsh), &bas[0]))
			buf := make([]C.double, ncomp*di*dj)
			cshls := [2]C.int{C.int(ish), C.int(jsh)}
			// a zero return means the pair screened out; the buffer
			// already holds zeros, so the copy below is still correct
			fn(&buf[0], &cshls[0], &atm[0], natm, &bas[0], nbas, &env[0])
			i0 := aoLoc[ish] - aoLoc[ish0]
			j0 := aoLoc[jsh] - aoLoc[jsh0]
			// libcint per-pair buffer is (dj, di, ncomp) fortran-style:
			// fastest index is di, then dj, then comp
			c := 0
			for comp := 0; comp < ncomp; comp++ {
				for dj2 := 0; dj2 < dj; dj2++ {
					for di2 := 0; di2 < di; di2++ {
						out[comp*naoj*naoi+(j0+dj2)*naoi+(i0+di2)] = float64(buf[c])
						c++
					}
				}
			}
		}
	}
	return nil
}

// Int2e implements Evaluator with the plain s1 fill over all shell
// quadruplets of the requested ranges.
func (ev *LibcintEvaluator) Int2e(opname string, out []float64, ncomp int, shls [8]int, aoLoc []int, opt Optimizer, tbl *Tables) error {
	var fn func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double, opt *C.CINTOpt) C.int
	switch opname {
	case "int2e_ar12b_sph", "int2e_sph":
		fn = func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double, opt *C.CINTOpt) C.int {
			return C.cint2e_sph(buf, shls, atm, natm, bas, nbas, env, opt)
		}
	case "int2e_ipar12b_sph", "int2e_ip1_sph":
		fn = func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double, opt *C.CINTOpt) C.int {
			return C.cint2e_ip1_sph(buf, shls, atm, natm, bas, nbas, env, opt)
		}
	case "int2e_ar12ipb_sph", "int2e_ip2_sph":
		fn = func(buf *C.double, shls *C.int, atm *C.int, natm C.int, bas *C.int, nbas C.int, env *C.double, opt *C.CINTOpt) C.int {
			return C.cint2e_ip2_sph(buf, shls, atm, natm, bas, nbas, env, opt)
		}
	default:
		return fmt.Errorf("%w: no libcint symbol for %q", ErrNativeCall, opname)
	}

	atm, bas, env := packTables(tbl)
	natm := C.int(tbl.NAtm())
	nbas := C.int(tbl.NBas())

	nao := make([]int, 4)
	for n := 0; n < 4; n++ {
		nao[n] = aoLoc[shls[2*n+1]] - aoLoc[shls[2*n]]
	}
	block := nao[0] * nao[1] * nao[2] * nao[3]

	for ish := shls[0]; ish < shls[1]; ish++ {
		di := int(C.CINTcgto_spheric(C.int(ish), &bas[0]))
		for jsh := shls[2]; jsh < shls[3]; jsh++ {
			dj := int(C.CINTcgto_spheric(C.int(jsh), &bas[0]))
			for ksh := shls[4]; ksh < shls[5]; ksh++ {
				dk := int(C.CINTcgto_spheric(C.int(ksh), &bas[0]))
				for lsh := shls[6]; lsh < shls[7]; lsh++ {
					dl := int(C.CINTcgto_spheric(C.int(lsh), &bas[0]))
					buf := make([]C.double, ncomp*di*dj*dk*dl)
					cshls := [4]C.int{C.int(ish), C.int(jsh), C.int(ksh), C.int(lsh)}
					fn(&buf[0], &cshls[0], &atm[0], natm, &bas[0], nbas, &env[0], nil)

					i0 := aoLoc[ish] - aoLoc[shls[0]]
					j0 := aoLoc[jsh] - aoLoc[shls[2]]
					k0 := aoLoc[ksh] - aoLoc[shls[4]]
					l0 := aoLoc[lsh] - aoLoc[shls[6]]
					c := 0
					for comp := 0; comp < ncomp; comp++ {
						for dl2 := 0; dl2 < dl; dl2++ {
							for dk2 := 0; dk2 < dk; dk2++ {
								for dj2 := 0; dj2 < dj; dj2++ {
									for di2 := 0; di2 < di; di2++ {
										idx := (((i0+di2)*nao[1]+(j0+dj2))*nao[2]+(k0+dk2))*nao[3] + (l0 + dl2)
										out[comp*block+idx] = float64(buf[c])
										c++
									}
								}
							}
						}
					}
				}
			}
		}
	}
	return nil
}

// EvalGTO is not routed through libcint (the orbital evaluator lives in
// libcgto, a separate library); callers needing grid evaluation use the
// GTOEvaluator backend.
func (ev *LibcintEvaluator) EvalGTO(opname string, out []float64, shls [2]int, aoLoc []int, coords []float64, tbl *Tables) error {
	return fmt.Errorf("%w: grid evaluation is not available on the libcint backend", ErrNativeCall)
}
