package consensus

//
//          Step(0)                    Step(1)
// +-----------------+        +-----------------------+
// |      Init       +------->+      PrePrepare       |  leader -> replicas
// +-----------------+        +-----------+-----------+
//         ^                              |
//         |                              v  Step(2)
//         |                  +-----------+-----------+
//         |                  |        Prepare        |  all -> all, >= 2f
//         |                  +-----------+-----------+
//         |                              |
//         |                              v  Step(3)
//         |                  +-----------+-----------+
//         |                  |        Commit         |  all -> all, >= 2f+1
//         |                  +-----------+-----------+
//         |                              |
//         |  sequence+1                  v  Step(4)
//         |                  +-----------+-----------+
//         +------------------+       Finalize        |  non-faulty >= f+1
//            (Safe)          +-----------+-----------+
//                                        |
//                                        v  (Unsafe)
//                               halted until Initialize/Reset
//
// 活跃故障数超过f时，任意一次Step都直接判定Unsafe，不产生协议消息

// RoundEngine - 单轮PBFT模拟的状态机，外部每调用一次Step推进一个阶段
//	- NodeSet - 节点身份、角色、故障状态，阶段状态只由engine修改
//	- FaultModel - 只根据节点的故障状态决定能否收发、发出的内容是否被篡改
//	- MessageLog - 只追加的消息日志，插入顺序就是前端看到的顺序
//	- BlockStore - 已提交的区块，进程退出即丢失
//	- AutoPlayer - 按固定间隔调用Step，相当于前端的"播放"按钮
