// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness multiplexing backend of the registry:
// a persistent level-triggered epoll interest set for full-set waits, poll(2)
// over ad hoc descriptor subsets, and an eventfd waker that cuts either wait
// short.
package reactor
