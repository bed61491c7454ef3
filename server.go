package main

import (
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/carvealloc/carve/alloc"
)

var jsonConfig = jsoniter.Config{}.Froze()

func handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	switch {
	case ctx.IsGet() && path == "/stats":
		doStats(ctx)
	case ctx.IsPost() && path == "/alloc":
		doAlloc(ctx)
	case ctx.IsPost() && path == "/free":
		doFree(ctx)
	default:
		ctx.SetStatusCode(404)
	}
}

func doStats(ctx *fasthttp.RequestCtx) {
	st := alloc.HeapStats()
	stream := jsonConfig.BorrowStream(nil)
	stream.Write([]byte(`{"total_bytes":`))
	stream.WriteUint64(uint64(st.TotalBytes))
	stream.Write([]byte(`,"used_bytes":`))
	stream.WriteUint64(uint64(st.UsedBytes))
	stream.Write([]byte(`,"avail_bytes":`))
	stream.WriteUint64(uint64(st.AvailBytes))
	stream.Write([]byte(`,"total_pages":`))
	stream.WriteInt(st.TotalPages)
	stream.Write([]byte(`,"used_pages":`))
	stream.WriteInt(st.UsedPages)
	stream.WriteObjectEnd()
	ctx.SetContentType("application/json")
	ctx.SetBody(stream.Buffer())
	jsonConfig.ReturnStream(stream)
}

func uintArg(ctx *fasthttp.RequestCtx, name string) (uintptr, bool) {
	v, err := strconv.ParseUint(string(ctx.QueryArgs().Peek(name)), 0, 64)
	if err != nil {
		return 0, false
	}
	return uintptr(v), true
}

func doAlloc(ctx *fasthttp.RequestCtx) {
	size, ok := uintArg(ctx, "size")
	if !ok {
		ctx.SetStatusCode(400)
		return
	}
	align, ok := uintArg(ctx, "align")
	if !ok {
		align = 8
	}
	addr, err := alloc.Alloc(size, align)
	switch err {
	case nil:
	case alloc.ErrInvalidLayout:
		ctx.SetStatusCode(400)
		return
	default:
		ctx.SetStatusCode(507)
		return
	}
	stream := jsonConfig.BorrowStream(nil)
	stream.Write([]byte(`{"addr":`))
	stream.WriteUint64(uint64(addr))
	stream.WriteObjectEnd()
	ctx.SetContentType("application/json")
	ctx.SetBody(stream.Buffer())
	jsonConfig.ReturnStream(stream)
}

func doFree(ctx *fasthttp.RequestCtx) {
	addr, ok := uintArg(ctx, "addr")
	if !ok {
		ctx.SetStatusCode(400)
		return
	}
	size, ok := uintArg(ctx, "size")
	if !ok {
		ctx.SetStatusCode(400)
		return
	}
	if err := alloc.Dealloc(addr, size, 1); err != nil {
		ctx.SetStatusCode(400)
		return
	}
	ctx.SetStatusCode(200)
}
