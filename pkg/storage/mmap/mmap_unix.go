//go:build unix

package mmap

import "golang.org/x/sys/unix"

// mmapFile maps fd read-write into memory. MAP_SHARED writes the pages back
// to the underlying chunk file, which is what makes the arena durable.
func mmapFile(fd uintptr, size int) ([]byte, error) {
	return unix.Mmap(int(fd), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func munmapFile(data []byte) error {
	return unix.Munmap(data)
}
