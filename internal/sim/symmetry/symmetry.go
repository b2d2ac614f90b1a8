package symmetry

// Named subgroups of the square group, indexed in Square order.
var squareSubgroups = map[string][]bool{
	"()":     {true, false, false, false, false, false, false, false},
	"(x)":    {true, true, false, false, false, false, false, false},
	"(y)":    {true, false, false, false, false, true, false, false},
	"(x)(y)": {true, true, false, false, true, true, false, false},
	"(xy+)":  {true, false, true, false, true, false, true, false},
	"(xy)":   {true, true, true, true, true, true, true, true},
}

var cubeSubgroups = map[string][]bool{
	"()":     cubeMask(func(i int) bool { return i == 0 }),
	"(x)":    cubeMask(func(i int) bool { return i == 0 || i == 1 }),
	"(z)":    cubeMask(func(i int) bool { return i == 0 || i == 17 }),
	"(xy)":   cubeMask(func(i int) bool { return i < 8 }),
	"(xyz+)": cubeMask(func(i int) bool { return i%2 == 0 }),
	"(xyz)":  cubeMask(func(int) bool { return true }),
}

func cubeMask(f func(i int) bool) []bool {
	out := make([]bool, 48)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

// Get resolves a subgroup name. An empty name yields def. ok is false for
// unknown names.
func Get(is2D bool, name string, def []bool) ([]bool, bool) {
	if name == "" {
		return def, true
	}
	var m []bool
	var found bool
	if is2D {
		m, found = squareSubgroups[name]
	} else {
		m, found = cubeSubgroups[name]
	}
	if !found {
		return nil, false
	}
	out := make([]bool, len(m))
	copy(out, m)
	return out, true
}

// Full returns the whole group mask: 8 elements in 2D, 48 in 3D.
func Full(is2D bool) []bool {
	if is2D {
		m, _ := Get(true, "(xy)", nil)
		return m
	}
	m, _ := Get(false, "(xyz)", nil)
	return m
}

// Square enumerates the orbit of thing under the dihedral group of order 8
// in the order e, b, a, ba, a2, ba2, a3, ba3 (a = rotation, b = reflection)
// and keeps the first of every run of equal elements allowed by subgroup.
// A nil subgroup allows every element.
func Square[T any](thing T, rotation, reflection func(T) T, same func(a, b T) bool, subgroup []bool) []T {
	things := make([]T, 8)
	things[0] = thing
	things[1] = reflection(things[0])
	things[2] = rotation(things[0])
	things[3] = reflection(things[2])
	things[4] = rotation(things[2])
	things[5] = reflection(things[4])
	things[6] = rotation(things[4])
	things[7] = reflection(things[6])
	return dedup(things, same, subgroup)
}

// Cube enumerates the orbit of thing under the 48-element cube group
// generated by a (z rotation), b (y rotation) and r (reflection).
func Cube[T any](thing T, a, b, r func(T) T, same func(a, b T) bool, subgroup []bool) []T {
	s := make([]T, 48)
	s[0] = thing
	s[1] = r(s[0])
	s[2] = a(s[0])
	s[3] = r(s[2])
	s[4] = a(s[2])
	s[5] = r(s[4])
	s[6] = a(s[4])
	s[7] = r(s[6])
	s[8] = b(s[0])
	s[9] = r(s[8])
	s[10] = b(s[2])
	s[11] = r(s[10])
	s[12] = b(s[4])
	s[13] = r(s[12])
	s[14] = b(s[6])
	s[15] = r(s[14])
	s[16] = b(s[8])
	s[17] = r(s[16])
	s[18] = b(s[10])
	s[19] = r(s[18])
	s[20] = b(s[12])
	s[21] = r(s[20])
	s[22] = b(s[14])
	s[23] = r(s[22])
	s[24] = b(s[16])
	s[25] = r(s[24])
	s[26] = b(s[18])
	s[27] = r(s[26])
	s[28] = b(s[20])
	s[29] = r(s[28])
	s[30] = b(s[22])
	s[31] = r(s[30])
	s[32] = a(s[8])
	s[33] = r(s[32])
	s[34] = a(s[10])
	s[35] = r(s[34])
	s[36] = a(s[12])
	s[37] = r(s[36])
	s[38] = a(s[14])
	s[39] = r(s[38])
	s[40] = a(s[24])
	s[41] = r(s[40])
	s[42] = a(s[26])
	s[43] = r(s[42])
	s[44] = a(s[28])
	s[45] = r(s[44])
	s[46] = a(s[30])
	s[47] = r(s[46])
	return dedup(s, same, subgroup)
}

func dedup[T any](things []T, same func(a, b T) bool, subgroup []bool) []T {
	var out []T
	for i, v := range things {
		if subgroup != nil && !subgroup[i] {
			continue
		}
		dup := false
		for _, o := range out {
			if same(o, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}
