package bsraw

import "bytes"

// qsufsort builds the suffix array of ref using the Larsson-Sadakane
// algorithm, the same construction classic bsdiff uses. The returned slice
// has len(ref)+1 entries; entry i is the offset of the i-th suffix in
// lexicographic order.
func qsufsort(ref []byte) []int {
	var buckets [256]int

	I := make([]int, len(ref)+1)
	V := make([]int, len(ref)+1)

	for _, c := range ref {
		buckets[c]++
	}
	for i := 1; i < 256; i++ {
		buckets[i] += buckets[i-1]
	}
	copy(buckets[1:], buckets[:255])
	buckets[0] = 0

	for i, c := range ref {
		buckets[c]++
		I[buckets[c]] = i
	}

	I[0] = len(ref)
	for i, c := range ref {
		V[i] = buckets[c]
	}

	V[len(ref)] = 0
	for i := 1; i < 256; i++ {
		if buckets[i] == buckets[i-1]+1 {
			I[buckets[i]] = -1
		}
	}
	I[0] = -1

	for h := 1; I[0] != -(len(ref) + 1); h += h {
		n := 0
		i := 0
		for i < len(ref)+1 {
			if I[i] < 0 {
				n -= I[i]
				i -= I[i]
			} else {
				if n != 0 {
					I[i-n] = -n
				}
				n = V[I[i]] + 1 - i
				split(I, V, i, n, h)
				i += n
				n = 0
			}
		}
		if n != 0 {
			I[i-n] = -n
		}
	}

	for i := 0; i < len(ref)+1; i++ {
		I[V[i]] = i
	}
	return I
}

// split sorts the group I[start:start+length] by the rank of the suffix h
// positions further in, refining V as groups settle.
func split(I, V []int, start, length, h int) {
	var i, j, k, x int

	if length < 16 {
		for k = start; k < start+length; k += j {
			j = 1
			x = V[I[k]+h]
			for i = 1; k+i < start+length; i++ {
				if V[I[k+i]+h] < x {
					x = V[I[k+i]+h]
					j = 0
				}
				if V[I[k+i]+h] == x {
					I[k+i], I[k+j] = I[k+j], I[k+i]
					j++
				}
			}
			for i = 0; i < j; i++ {
				V[I[k+i]] = k + j - 1
			}
			if j == 1 {
				I[k] = -1
			}
		}
		return
	}

	x = V[I[start+length/2]+h]
	jj := 0
	kk := 0
	for i = start; i < start+length; i++ {
		if V[I[i]+h] < x {
			jj++
		}
		if V[I[i]+h] == x {
			kk++
		}
	}
	jj += start
	kk += jj

	i = start
	j = 0
	k = 0
	for i < jj {
		if V[I[i]+h] < x {
			i++
		} else if V[I[i]+h] == x {
			I[i], I[jj+j] = I[jj+j], I[i]
			j++
		} else {
			I[i], I[kk+k] = I[kk+k], I[i]
			k++
		}
	}

	for jj+j < kk {
		if V[I[jj+j]+h] == x {
			j++
		} else {
			I[jj+j], I[kk+k] = I[kk+k], I[jj+j]
			k++
		}
	}

	if jj > start {
		split(I, V, start, jj-start, h)
	}

	for i = 0; i < kk-jj; i++ {
		V[I[jj+i]] = kk - 1
	}
	if jj == kk-1 {
		I[jj] = -1
	}

	if start+length > kk {
		split(I, V, kk, start+length-kk, h)
	}
}

// matchlen returns the length of the common prefix of a and b.
func matchlen(a, b []byte) int {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	return i
}

// search finds the suffix of ref with the longest common prefix against cur
// by binary search over the suffix array slice I[st:en+1]. It returns the
// offset of the best match in ref and its length.
func search(I []int, ref, cur []byte, st, en int) (pos, length int) {
	if en-st < 2 {
		x := matchlen(ref[I[st]:], cur)
		y := matchlen(ref[I[en]:], cur)
		if x > y {
			return I[st], x
		}
		return I[en], y
	}

	x := st + (en-st)/2
	if bytes.Compare(ref[I[x]:], cur) < 0 {
		return search(I, ref, cur, x, en)
	}
	return search(I, ref, cur, st, x)
}
