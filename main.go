package main

import (
	"flag"
	"log"

	"github.com/valyala/fasthttp"

	"github.com/carvealloc/carve/alloc"
)

var port = flag.String("port", "8080", "port to listen")
var memMiB = flag.Int("mem", 64, "managed region size in MiB")
var balloc = flag.String("balloc", "tlsf", "byte allocator: tlsf, slab or buddy")

func main() {
	log.SetFlags(log.Lmicroseconds | log.Lshortfile)
	flag.Parse()

	ba := alloc.NewByteAlloc(*balloc)
	if ba == nil {
		log.Fatalf("unknown byte allocator %q", *balloc)
	}
	region, err := alloc.MapRegion(*memMiB << 20)
	if err != nil {
		log.Fatal(err)
	}
	if err := alloc.Global.InitWith(ba, region.Base(), region.Size()); err != nil {
		log.Fatal(err)
	}
	log.Printf("%s heap over %d MiB at %x", *balloc, *memMiB, region.Base())

	err = fasthttp.ListenAndServe(":"+*port, handler)
	if err != nil {
		log.Fatal(err)
	}
}
