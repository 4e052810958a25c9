package runner

// EndpointIndex maps a pop attempt to a roster position. Attempts are grouped
// in contiguous slices so each endpoint takes a burst before the next one does:
// with slice 2 and 3 endpoints, attempts 0..6 map to 0,0,1,1,2,2,0.
func EndpointIndex(attempt, slice, count int) int {
	if count <= 0 {
		return 0
	}
	if slice < 1 {
		slice = 1
	}
	return (attempt / slice) % count
}
