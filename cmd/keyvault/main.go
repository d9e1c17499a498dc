package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/betbot/gofarm/pkg/secretstore"
)

// keyvault 管理 badger 密钥库里的账户凭证。
// 配置文件里用 secret_alias 引用这里写入的账户，API 密钥就不用进 YAML。
func main() {
	var (
		dbPath    = flag.String("badger", getenv("GOFARM_SECRET_DB", "data/secrets.badger"), "badger 密钥库路径")
		secretKey = flag.String("secret-key", getenv("GOFARM_SECRET_KEY", ""), "库加密密钥（32 字节 base64/hex）")
		importIn  = flag.String("import", "", "从 .env 文件批量导入（<NAME>_API_KEY/<NAME>_API_SECRET 成对出现，别名取 <NAME> 的小写）")
		setName   = flag.String("set", "", "写入单个账户凭证（配合 -api-key -api-secret）")
		apiKey    = flag.String("api-key", "", "账户 API Key（-set 用）")
		apiSecret = flag.String("api-secret", "", "账户 API Secret（-set 用）")
		list      = flag.Bool("list", false, "列出库中全部账户别名")
	)
	flag.Parse()

	modes := 0
	if *importIn != "" {
		modes++
	}
	if *setName != "" {
		modes++
	}
	if *list {
		modes++
	}
	if modes != 1 {
		fatal(fmt.Errorf("需要且只能选择一种操作：-import / -set / -list"))
	}

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("缺少加密密钥：设置 GOFARM_SECRET_KEY 或传入 -secret-key"))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
		ReadOnly:      *list,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	switch {
	case *list:
		names, err := ss.ListAccounts()
		if err != nil {
			fatal(err)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		fmt.Fprintf(os.Stderr, "共 %d 个账户：%s\n", len(names), *dbPath)

	case *setName != "":
		if strings.TrimSpace(*apiKey) == "" || strings.TrimSpace(*apiSecret) == "" {
			fatal(fmt.Errorf("-set 需要同时提供 -api-key 和 -api-secret"))
		}
		if err := ss.SetCredential(*setName, secretstore.Credential{
			APIKey:    strings.TrimSpace(*apiKey),
			APISecret: strings.TrimSpace(*apiSecret),
		}); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stderr, "已写入账户 %s 到 %s\n", *setName, *dbPath)

	default:
		kv, err := parseDotEnvFile(*importIn)
		if err != nil {
			fatal(err)
		}
		creds, err := pairCredentials(kv)
		if err != nil {
			fatal(err)
		}
		if len(creds) == 0 {
			fatal(fmt.Errorf("%s 中没有 <NAME>_API_KEY/<NAME>_API_SECRET 形式的凭证对", *importIn))
		}
		for name, cred := range creds {
			if err := ss.SetCredential(name, cred); err != nil {
				fatal(err)
			}
		}
		fmt.Fprintf(os.Stderr, "已导入 %d 个账户到 %s\n", len(creds), *dbPath)
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}

// pairCredentials 把 KEY=VALUE 集合配对成账户凭证
// 孤立的 _API_KEY 或 _API_SECRET 视为配置错误
func pairCredentials(kv map[string]string) (map[string]secretstore.Credential, error) {
	out := map[string]secretstore.Credential{}
	for k, v := range kv {
		name, ok := strings.CutSuffix(k, "_API_KEY")
		if !ok || name == "" {
			continue
		}
		secret, ok := kv[name+"_API_SECRET"]
		if !ok {
			return nil, fmt.Errorf("%s_API_KEY 缺少配对的 %s_API_SECRET", name, name)
		}
		out[strings.ToLower(name)] = secretstore.Credential{APIKey: v, APISecret: secret}
	}
	for k := range kv {
		name, ok := strings.CutSuffix(k, "_API_SECRET")
		if !ok || name == "" {
			continue
		}
		if _, ok := kv[name+"_API_KEY"]; !ok {
			return nil, fmt.Errorf("%s_API_SECRET 缺少配对的 %s_API_KEY", name, name)
		}
	}
	return out, nil
}

func parseDotEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for _, line := range strings.Split(string(b), "\n") {
		l := strings.TrimSpace(strings.TrimRight(line, "\r"))
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		if !strings.Contains(l, "=") {
			continue
		}
		parts := strings.SplitN(l, "=", 2)
		k := strings.TrimSpace(parts[0])
		v := strings.TrimSpace(parts[1])
		if k == "" {
			continue
		}
		// strip optional quotes
		if len(v) >= 2 && ((v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'')) {
			v = v[1 : len(v)-1]
		}
		out[k] = v
	}
	return out, nil
}
