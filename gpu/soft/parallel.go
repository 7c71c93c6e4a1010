package soft

import "sync"

// forEachRow runs fn for every row index in [0, rows) on up to workers
// goroutines pulling from a shared work queue.
func forEachRow(rows, workers int, fn func(y int)) {
	if workers <= 1 || rows < 2 {
		for y := 0; y < rows; y++ {
			fn(y)
		}
		return
	}
	if workers > rows {
		workers = rows
	}

	var wg sync.WaitGroup

	work := make(chan int, rows)
	for y := 0; y < rows; y++ {
		work <- y
	}
	close(work)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for y := range work {
				fn(y)
			}
		}()
	}

	wg.Wait()
}
