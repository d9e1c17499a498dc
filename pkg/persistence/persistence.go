// Package persistence 账户状态落盘
// 工作器的风控窗口与持仓簿通过 `persistence` 结构体标签声明要落盘的字段，
// 重启后按账户名恢复。存储介质是每字段一个 JSON 文件，写入走临时文件加改名。
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

const fieldTag = "persistence"

// ErrNotExists 数据尚未写入过
var ErrNotExists = errors.New("persistence: no data")

// Store 单个状态条目的读写
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

// Service 按 (prefix, id, tag) 三元组派发存储条目
type Service interface {
	NewStore(prefix, id, tag string) Store
}

// JSONFileService 把每个条目存成 baseDir 下的一个 JSON 文件
type JSONFileService struct {
	baseDir string
}

func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{baseDir: baseDir}
}

func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &jsonFileStore{
		dir:  s.baseDir,
		name: sanitizeName(prefix + ":" + id + ":" + tag),
	}
}

type jsonFileStore struct {
	dir  string
	name string
}

// sanitizeName 把条目键变成安全的文件名
func sanitizeName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, key)
}

func (s *jsonFileStore) path() string {
	return filepath.Join(s.dir, s.name+".json")
}

func (s *jsonFileStore) Save(data interface{}) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "创建持久化目录失败")
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "序列化 %s 失败", s.name)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path())
}

func (s *jsonFileStore) Load(data interface{}) error {
	b, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return ErrNotExists
	}
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return errors.Wrapf(json.Unmarshal(b, data), "解析 %s 失败", s.name)
}

// SaveFields 把 obj 中带 persistence 标签的字段逐个写入 service
func SaveFields(obj interface{}, id string, service Service) error {
	return walkTaggedFields(obj, func(tag string, _ reflect.StructField, fv reflect.Value) error {
		return service.NewStore("state", id, tag).Save(fv.Interface())
	})
}

// LoadFields 按 persistence 标签恢复字段，缺失的条目保持零值
func LoadFields(obj interface{}, id string, service Service) error {
	return walkTaggedFields(obj, func(tag string, _ reflect.StructField, fv reflect.Value) error {
		loaded := newValueOf(fv.Type())
		err := service.NewStore("state", id, tag).Load(&loaded)
		if err == ErrNotExists {
			return nil
		}
		if err != nil {
			return err
		}

		lv := reflect.ValueOf(loaded)
		if fv.Kind() != reflect.Ptr && lv.Kind() == reflect.Ptr {
			lv = lv.Elem()
		}
		fv.Set(lv)
		return nil
	})
}

// walkTaggedFields 深度遍历结构体，对每个带标签的可写字段调用 fn。
// 未打标签的嵌套结构体会被递归进入。
func walkTaggedFields(obj interface{}, fn func(tag string, sf reflect.StructField, fv reflect.Value) error) error {
	v := reflect.ValueOf(obj)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return errors.New("persistence: 目标必须是结构体或其指针")
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}

		tag := sf.Tag.Get(fieldTag)
		if tag == "" || tag == "-" {
			if fv.Kind() == reflect.Struct {
				if err := walkTaggedFields(fv.Addr().Interface(), fn); err != nil {
					return err
				}
			}
			continue
		}

		if err := fn(strings.SplitN(tag, ",", 2)[0], sf, fv); err != nil {
			return err
		}
	}
	return nil
}

// newValueOf 为字段类型分配一个可反序列化的新值
func newValueOf(typ reflect.Type) interface{} {
	if typ.Kind() == reflect.Ptr {
		return reflect.New(typ.Elem()).Interface()
	}
	return reflect.New(typ).Interface()
}
