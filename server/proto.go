package server

import (
	"context"
	_ "embed"
	"fmt"
	"reflect"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/transform"
)

// ProtoFile is the name the service definition is parsed under.
const ProtoFile = "obfux.proto"

//go:embed obfux.proto
var protoSource string

var (
	serviceDesc  *desc.ServiceDescriptor
	messageDescs map[reflect.Type]*desc.MessageDescriptor
)

func init() {
	parser := protoparse.Parser{
		Accessor: protoparse.FileContentsFromMap(map[string]string{ProtoFile: protoSource}),
	}
	fds, err := parser.ParseFiles(ProtoFile)
	if err != nil {
		panic(fmt.Sprintf("server: bad embedded %s: %v", ProtoFile, err))
	}
	fd := fds[0]
	serviceDesc = fd.FindService(ServiceName)
	if serviceDesc == nil {
		panic(fmt.Sprintf("server: %s does not define %s", ProtoFile, ServiceName))
	}
	messageDescs = map[reflect.Type]*desc.MessageDescriptor{}
	for typ, name := range map[reflect.Type]string{
		reflect.TypeFor[ObfuscateRequest]():  "ObfuscateRequest",
		reflect.TypeFor[ObfuscateResponse](): "ObfuscateResponse",
		reflect.TypeFor[RunRequest]():         "RunRequest",
		reflect.TypeFor[RunResponse]():        "RunResponse",
		reflect.TypeFor[transform.Pair]():     "Rename",
	} {
		md := fd.FindMessage("obfux.v1." + name)
		if md == nil {
			panic(fmt.Sprintf("server: %s does not define %s", ProtoFile, name))
		}
		messageDescs[typ] = md
	}
}

// ServiceDescriptor returns the parsed descriptor of the ObfuscationService.
func ServiceDescriptor() *desc.ServiceDescriptor { return serviceDesc }

// ProtoCodec encodes service messages as protobuf binary, using the
// descriptors parsed from obfux.proto. Registered on the handler it
// replaces Connect's built-in "proto" codec, so plain gRPC clients
// (content type application/grpc) reach the service too.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Marshal(v any) ([]byte, error) {
	rv := reflect.Indirect(reflect.ValueOf(v))
	md, ok := messageDescs[rv.Type()]
	if !ok {
		return nil, fmt.Errorf("proto: no message for %T", v)
	}
	msg, err := toDynamic(rv, md)
	if err != nil {
		return nil, err
	}
	return msg.Marshal()
}

func (ProtoCodec) Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("proto: cannot unmarshal into %T", v)
	}
	md, ok := messageDescs[rv.Elem().Type()]
	if !ok {
		return fmt.Errorf("proto: no message for %T", v)
	}
	msg := dynamic.NewMessage(md)
	if err := msg.Unmarshal(data); err != nil {
		return err
	}
	return fromDynamic(msg, rv.Elem())
}

// fieldIndex maps the wire names of t's fields, taken from their cbor tags
// or failing that their json tags, to field indexes.
func fieldIndex(t reflect.Type) map[string]int {
	idx := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("cbor")
		if tag == "" {
			tag = f.Tag.Get("json")
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		idx[name] = i
	}
	return idx
}

// toDynamic converts a message struct into a dynamic message of type md.
// Zero fields are left unset.
func toDynamic(rv reflect.Value, md *desc.MessageDescriptor) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(md)
	idx := fieldIndex(rv.Type())
	for _, field := range md.GetFields() {
		i, ok := idx[field.GetName()]
		if !ok {
			continue
		}
		fv := rv.Field(i)
		if fv.IsZero() {
			continue
		}
		if field.IsRepeated() {
			for j := 0; j < fv.Len(); j++ {
				val, err := protoValue(fv.Index(j), field)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", field.GetName(), err)
				}
				if err := msg.TryAddRepeatedField(field, val); err != nil {
					return nil, fmt.Errorf("field %s: %w", field.GetName(), err)
				}
			}
			continue
		}
		val, err := protoValue(fv, field)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.GetName(), err)
		}
		if err := msg.TrySetField(field, val); err != nil {
			return nil, fmt.Errorf("setting field %s: %w", field.GetName(), err)
		}
	}
	return msg, nil
}

func protoValue(v reflect.Value, field *desc.FieldDescriptor) (interface{}, error) {
	switch field.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		if v.Kind() == reflect.String {
			return v.String(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_INT64:
		if v.CanInt() {
			return v.Int(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		if v.Kind() == reflect.Bool {
			return v.Bool(), nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE:
		if v.Kind() == reflect.Struct {
			return toDynamic(v, field.GetMessageType())
		}
	}
	return nil, fmt.Errorf("cannot encode %s as %s", v.Type(), field.GetType())
}

// fromDynamic fills the message struct rv from msg.
func fromDynamic(msg *dynamic.Message, rv reflect.Value) error {
	idx := fieldIndex(rv.Type())
	for _, field := range msg.GetKnownFields() {
		i, ok := idx[field.GetName()]
		if !ok || !msg.HasField(field) {
			continue
		}
		fv := rv.Field(i)
		val := msg.GetField(field)
		if field.IsRepeated() {
			items, ok := val.([]interface{})
			if !ok {
				return fmt.Errorf("field %s: unexpected %T", field.GetName(), val)
			}
			out := reflect.MakeSlice(fv.Type(), len(items), len(items))
			for j, item := range items {
				if err := setGoValue(out.Index(j), item, field); err != nil {
					return fmt.Errorf("field %s: %w", field.GetName(), err)
				}
			}
			fv.Set(out)
			continue
		}
		if err := setGoValue(fv, val, field); err != nil {
			return fmt.Errorf("field %s: %w", field.GetName(), err)
		}
	}
	return nil
}

func setGoValue(dst reflect.Value, val interface{}, field *desc.FieldDescriptor) error {
	switch field.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		if s, ok := val.(string); ok && dst.Kind() == reflect.String {
			dst.SetString(s)
			return nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_INT64:
		if n, ok := val.(int64); ok && dst.CanInt() {
			if dst.OverflowInt(n) {
				return fmt.Errorf("%d overflows %s", n, dst.Type())
			}
			dst.SetInt(n)
			return nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		if b, ok := val.(bool); ok && dst.Kind() == reflect.Bool {
			dst.SetBool(b)
			return nil
		}
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE:
		if m, ok := val.(*dynamic.Message); ok && dst.Kind() == reflect.Struct {
			return fromDynamic(m, dst)
		}
	}
	return fmt.Errorf("cannot decode %T into %s", val, dst.Type())
}

// DynamicClient calls the ObfuscationService over gRPC with protobuf
// messages built at runtime from the service descriptor. It needs no
// generated code, only obfux.proto.
type DynamicClient struct {
	conn *grpc.ClientConn
	stub grpcdynamic.Stub
}

// DialDynamic connects to the service at target ("host:port").
func DialDynamic(target string, opts ...grpc.DialOption) (*DynamicClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target, err)
	}
	return &DynamicClient{conn: conn, stub: grpcdynamic.NewStub(conn)}, nil
}

// Obfuscate protects one program.
func (c *DynamicClient) Obfuscate(ctx context.Context, req *ObfuscateRequest) (*ObfuscateResponse, error) {
	resp := new(ObfuscateResponse)
	if err := c.invoke(ctx, "Obfuscate", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Run executes a loader remotely.
func (c *DynamicClient) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp := new(RunResponse)
	if err := c.invoke(ctx, "Run", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *DynamicClient) invoke(ctx context.Context, method string, req, resp any) error {
	mtd := serviceDesc.FindMethodByName(method)
	if mtd == nil {
		return fmt.Errorf("method %s not found in service %s", method, ServiceName)
	}
	in, err := toDynamic(reflect.Indirect(reflect.ValueOf(req)), mtd.GetInputType())
	if err != nil {
		return fmt.Errorf("request conversion: %w", err)
	}
	out, err := c.stub.InvokeRpc(ctx, mtd, in)
	if err != nil {
		return err
	}
	msg, err := dynamic.AsDynamicMessage(out)
	if err != nil {
		return fmt.Errorf("response conversion: %w", err)
	}
	return fromDynamic(msg, reflect.ValueOf(resp).Elem())
}

// Close closes the connection.
func (c *DynamicClient) Close() error { return c.conn.Close() }
