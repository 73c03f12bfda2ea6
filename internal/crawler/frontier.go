package crawler

// frontier is the breadth-first to-visit queue of a recursive crawl. It is owned by
// a single goroutine and is not safe for concurrent use.
type frontier struct {
	queue   []string
	queued  map[string]struct{}
	visited map[string]struct{}
}

func newFrontier(seed string) *frontier {
	f := &frontier{
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
	f.push(seed)
	return f
}

// push enqueues url unless it was already visited or queued.
func (f *frontier) push(url string) bool {
	if url == "" {
		return false
	}
	if _, ok := f.visited[url]; ok {
		return false
	}
	if _, ok := f.queued[url]; ok {
		return false
	}
	f.queued[url] = struct{}{}
	f.queue = append(f.queue, url)
	return true
}

// pop removes up to n URLs from the front of the queue.
func (f *frontier) pop(n int) []string {
	if n > len(f.queue) {
		n = len(f.queue)
	}
	batch := make([]string, n)
	copy(batch, f.queue[:n])
	f.queue = f.queue[n:]
	for _, url := range batch {
		delete(f.queued, url)
	}
	return batch
}

// visit marks url as visited. It returns false when url was visited before.
func (f *frontier) visit(url string) bool {
	if _, ok := f.visited[url]; ok {
		return false
	}
	f.visited[url] = struct{}{}
	return true
}

func (f *frontier) empty() bool {
	return len(f.queue) == 0
}

func (f *frontier) size() int {
	return len(f.queue)
}
